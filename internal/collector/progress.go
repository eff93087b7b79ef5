package collector

import "sync/atomic"

// Progress counts accounted partitions; it is safe to read while a gather
// runs.
type Progress struct {
	expected  atomic.Int64
	collected atomic.Int64
	failed    atomic.Int64
}

type ProgressSnapshot struct {
	Expected  int  `json:"expected"`
	Collected int  `json:"collected"`
	Failed    int  `json:"failed"`
	Done      bool `json:"done"`
}

func (p *Progress) Snapshot() ProgressSnapshot {
	s := ProgressSnapshot{
		Expected:  int(p.expected.Load()),
		Collected: int(p.collected.Load()),
		Failed:    int(p.failed.Load()),
	}
	s.Done = s.Expected > 0 && s.Collected+s.Failed >= s.Expected
	return s
}
