package punch

import "time"

// Kind は打刻の種別です。エンジンは種別を解釈しません。
type Kind int

const (
	KindClockIn  Kind = 0
	KindClockOut Kind = 1
)

// Valid は種別が既知の値かどうかを返します。
func (k Kind) Valid() bool {
	switch k {
	case KindClockIn, KindClockOut:
		return true
	default:
		return false
	}
}

// String は種別の表示名を返します。
func (k Kind) String() string {
	switch k {
	case KindClockIn:
		return "clock_in"
	case KindClockOut:
		return "clock_out"
	default:
		return "unknown"
	}
}

// Punch は社員の打刻記録エンティティです。
type Punch struct {
	ID           string
	EmployeeID   int64
	PunchedAt    time.Time
	Kind         Kind
	Consolidated bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Clone は Punch のコピーを返します。
func (p *Punch) Clone() *Punch {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
