package core

import "time"

// Outcome records what a single script line did.
type Outcome struct {
	Command Command
	Applied bool
}

// Result is the output of one script run.
type Result struct {
	Transcript string
	Outcomes   []Outcome
	Tree       *Filetree
	CreatedAt  time.Time
}

// Stats summarises a Result.
type Stats struct {
	Lines     int `json:"lines"`
	Commands  int `json:"commands"`
	Applied   int `json:"applied"`
	Dirs      int `json:"dirs"`
	MaxDepth  int `json:"max_depth"`
	OutputLen int `json:"output_bytes"`
}

func NewResult(transcript string, outcomes []Outcome, tree *Filetree) *Result {
	return &Result{
		Transcript: transcript,
		Outcomes:   outcomes,
		Tree:       tree,
		CreatedAt:  time.Now(),
	}
}

func (r *Result) Stats() Stats {
	s := Stats{
		Lines:     len(r.Outcomes),
		OutputLen: len(r.Transcript),
	}
	for _, o := range r.Outcomes {
		if o.Command.Valid() {
			s.Commands++
		}
		if o.Applied {
			s.Applied++
		}
	}
	if r.Tree != nil {
		s.Dirs = r.Tree.Count()
		s.MaxDepth = r.Tree.Depth()
	}
	return s
}
