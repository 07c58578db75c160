package readiness

// Status is the preparation state of one movie within a session.
type Status string

const (
	Checking   Status = "checking"
	Generating Status = "generating"
	Ready      Status = "ready"
	Error      Status = "error"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == Ready || s == Error
}

func (s Status) String() string { return string(s) }

// canMoveTo encodes checking → {generating → {ready|error}} | ready | error.
func (s Status) canMoveTo(next Status) bool {
	switch s {
	case Checking:
		return next == Generating || next == Ready || next == Error
	case Generating:
		return next == Ready || next == Error
	}
	return false
}
