package intake

import "github.com/zombor/spend-tracker/internal/expense"

// Progress is a status update for an in-flight scan
type Progress struct {
	Fingerprint string
	Percent     int
	Message     string
}

// Completion carries the items accepted for a scan
type Completion struct {
	Fingerprint string
	Items       []expense.LineItem
	Expenses    []*expense.Expense
	Notice      string
}

// Observer receives scan lifecycle events. Calls are made without any
// scan lock held, so implementations may query the scan.
type Observer interface {
	OnProgress(Progress)
	OnComplete(Completion)
	OnError(fingerprint string, err error)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Progress func(Progress)
	Complete func(Completion)
	Error    func(fingerprint string, err error)
}

func (o ObserverFuncs) OnProgress(p Progress) {
	if o.Progress != nil {
		o.Progress(p)
	}
}

func (o ObserverFuncs) OnComplete(c Completion) {
	if o.Complete != nil {
		o.Complete(c)
	}
}

func (o ObserverFuncs) OnError(fingerprint string, err error) {
	if o.Error != nil {
		o.Error(fingerprint, err)
	}
}

// Observers fans events out to several observers in order
type Observers []Observer

func (os Observers) OnProgress(p Progress) {
	for _, o := range os {
		o.OnProgress(p)
	}
}

func (os Observers) OnComplete(c Completion) {
	for _, o := range os {
		o.OnComplete(c)
	}
}

func (os Observers) OnError(fingerprint string, err error) {
	for _, o := range os {
		o.OnError(fingerprint, err)
	}
}
