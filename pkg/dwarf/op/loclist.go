package op

// LocList is a location list: the location of an object as a function of
// the program counter. Entries are kept in the order they were read in.
type LocList []LocExpr

// LocForAddr returns the first entry covering addr, or an empty LocExpr if
// no entry does.
func (l LocList) LocForAddr(addr uint64) LocExpr {
	for _, e := range l {
		if e.Covers(addr) {
			return e
		}
	}
	return LocExpr{}
}

// Interval is a half open address range.
type Interval struct {
	Low, High uint64
}

// Intervals returns the ranges of the entries of l, in order. Entries valid
// everywhere are returned as the zero Interval.
func (l LocList) Intervals() []Interval {
	r := make([]Interval, 0, len(l))
	for _, e := range l {
		r = append(r, Interval{Low: e.LowPC, High: e.HighPC})
	}
	return r
}

func (l LocList) String() string {
	s := ""
	for i, e := range l {
		if i > 0 {
			s += "\n"
		}
		s += e.String()
	}
	return s
}
