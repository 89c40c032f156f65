package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/spend-tracker/internal/expense"
	"github.com/zombor/spend-tracker/internal/intake"
	"github.com/zombor/spend-tracker/internal/scanning"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type mockIDGenerator struct {
	mu sync.Mutex
	n  int
}

func (m *mockIDGenerator) Generate() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.n++
	return fmt.Sprintf("id-%d", m.n)
}

type mockTimeSource struct {
	now time.Time
}

func (m *mockTimeSource) Now() time.Time {
	return m.now
}

type mockScanner struct {
	mu      sync.Mutex
	data    *scanning.ReceiptData
	err     error
	release chan struct{}
	calls   int
}

func (m *mockScanner) ScanReceipt(ctx context.Context, imageData []byte, contentType string) (*scanning.ReceiptData, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.release != nil {
		<-m.release
	}
	return m.data, m.err
}

func (m *mockScanner) Close() error {
	return nil
}

func (m *mockScanner) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockReader struct {
	mu    sync.Mutex
	text  string
	err   error
	delay time.Duration
	calls int
}

func (m *mockReader) ReadText(ctx context.Context, imageData []byte, contentType string) (string, error) {
	m.mu.Lock()
	m.calls++
	text, err, delay := m.text, m.err, m.delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return text, err
}

func (m *mockReader) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockStore struct {
	mu        sync.Mutex
	inserted  []*expense.Expense
	insertErr error

	// partialAfter, when positive, saves that many rows then fails
	partialAfter int

	// started is closed when an insert begins; the insert then waits on hold
	started chan struct{}
	hold    chan struct{}
}

func (m *mockStore) InsertExpenses(ctx context.Context, expenses []*expense.Expense) ([]*expense.Expense, error) {
	if m.started != nil {
		close(m.started)
		<-m.hold
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.partialAfter > 0 {
		saved := expenses[:m.partialAfter]
		m.inserted = append(m.inserted, saved...)
		return nil, &expense.PartialInsertError{Inserted: saved, Err: errors.New("duplicate key")}
	}
	if m.insertErr != nil {
		return nil, m.insertErr
	}
	m.inserted = append(m.inserted, expenses...)
	return expenses, nil
}

func (m *mockStore) GetExpense(ctx context.Context, id string) (*expense.Expense, error) {
	return nil, expense.ErrNotFound
}

func (m *mockStore) ListExpenses(ctx context.Context, ownerID string) ([]*expense.Expense, error) {
	return nil, nil
}

func (m *mockStore) DeleteExpense(ctx context.Context, id string) error {
	return nil
}

func (m *mockStore) Close() error {
	return nil
}

func (m *mockStore) Inserted() []*expense.Expense {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*expense.Expense(nil), m.inserted...)
}

type recordingObserver struct {
	mu        sync.Mutex
	completes []intake.Completion
	errs      []error
}

func (r *recordingObserver) OnProgress(intake.Progress) {}

func (r *recordingObserver) OnComplete(c intake.Completion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completes = append(r.completes, c)
}

func (r *recordingObserver) OnError(fingerprint string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recordingObserver) Completes() []intake.Completion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]intake.Completion(nil), r.completes...)
}

func (r *recordingObserver) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

const receiptText = `CORNER MARKET
MILK 2% 3.49
BREAD 2.99
TOTAL 6.48
03/01/2024
VISA`

var _ = Describe("Controller", func() {
	var (
		scanner    *mockScanner
		reader     *mockReader
		store      *mockStore
		registry   *intake.Registry
		observer   *recordingObserver
		idGen      *mockIDGenerator
		timeSource *mockTimeSource
		cfg        Config
		controller *Controller
		req        Request
		outcome    *Outcome
		err        error
		elapsed    time.Duration
	)

	BeforeEach(func() {
		scanner = &mockScanner{}
		reader = &mockReader{}
		store = &mockStore{}
		registry = intake.NewRegistry()
		observer = &recordingObserver{}
		idGen = &mockIDGenerator{}
		timeSource = &mockTimeSource{now: time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)}
		cfg = Config{MaxAttempts: 2, RetryBackoff: 10 * time.Millisecond, ScanTimeout: 5 * time.Second}
		req = Request{
			File: File{
				Name:        "receipt.png",
				Size:        1024,
				Modified:    time.UnixMilli(1709600000000),
				ContentType: "image/png",
				Data:        []byte("image"),
			},
			Mode:    Auto,
			OwnerID: "alice",
		}
	})

	build := func() {
		normalizer := expense.NewNormalizer(nil, timeSource.Now)
		coordinator := scanning.NewCoordinator(discard,
			scanning.NewRemoteStrategy(scanner, 50*time.Millisecond, nil, discard),
			scanning.NewHeuristicStrategy(scanning.NewParser(nil, timeSource.Now), []scanning.TextReader{reader}, discard),
		)
		controller = NewControllerWithDeps(coordinator, normalizer, store, registry, cfg, discard, idGen, timeSource)
	}

	fingerprint := func() string {
		return intake.Fingerprint(req.File.Name, req.File.Size, req.File.Modified)
	}

	Describe("Process", func() {
		JustBeforeEach(func() {
			build()
			start := time.Now()
			outcome, err = controller.Process(context.Background(), req, observer)
			elapsed = time.Since(start)
		})

		AfterEach(func() {
			if scanner.release != nil {
				close(scanner.release)
			}
		})

		When("the remote model returns items", func() {
			BeforeEach(func() {
				scanner.data = &scanning.ReceiptData{Items: []expense.LineItem{
					{Description: "Milk", Amount: expense.MustMoney("3.49"), Date: "2024-03-01", Category: "Groceries", PaymentMethod: "visa"},
				}}
			})

			It("commits the normalized items", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(outcome.Committed).To(BeTrue())
				Expect(outcome.Strategy).To(Equal("remote"))
				Expect(outcome.Attempts).To(Equal(1))
				Expect(outcome.Synthetic).To(BeFalse())

				inserted := store.Inserted()
				Expect(inserted).To(HaveLen(1))
				Expect(inserted[0].Description).To(Equal("Milk"))
				Expect(inserted[0].Category).To(Equal("Food"))
				Expect(inserted[0].Amount.String()).To(Equal("3.49"))
				Expect(inserted[0].OwnerID).To(Equal("alice"))
				Expect(inserted[0].Source).To(Equal("remote"))
				Expect(inserted[0].ScanID).To(Equal(outcome.ScanID))
				Expect(inserted[0].CreatedAt).To(Equal(timeSource.now))
			})

			It("never runs the fallback", func() {
				Expect(reader.Calls()).To(Equal(0))
			})

			It("notifies completion once and releases the file", func() {
				Expect(observer.Completes()).To(HaveLen(1))
				Expect(observer.Completes()[0].Expenses).To(HaveLen(1))
				Expect(observer.Errors()).To(BeEmpty())
				Expect(registry.Held(fingerprint())).To(BeFalse())
			})
		})

		When("the remote model hangs past its deadline", func() {
			BeforeEach(func() {
				scanner.release = make(chan struct{})
				scanner.data = &scanning.ReceiptData{Items: []expense.LineItem{
					{Description: "Late Item", Amount: expense.MustMoney("1.00")},
				}}
				reader.text = receiptText
			})

			It("commits the heuristic result", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(outcome.Committed).To(BeTrue())
				Expect(outcome.Strategy).To(Equal("heuristic"))
				Expect(outcome.Items).NotTo(BeEmpty())
				Expect(store.Inserted()).To(HaveLen(len(outcome.Items)))
				for _, e := range store.Inserted() {
					Expect(e.Description).NotTo(Equal("Late Item"))
				}
			})

			It("finishes complete", func() {
				Expect(observer.Completes()).To(HaveLen(1))
				Expect(registry.Held(fingerprint())).To(BeFalse())
			})
		})

		When("every strategy fails on every attempt", func() {
			BeforeEach(func() {
				scanner.err = errors.New("connection reset")
				reader.err = errors.New("tesseract not installed")
			})

			It("retries then commits a placeholder", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(outcome.Attempts).To(Equal(2))
				Expect(scanner.Calls()).To(Equal(2))
				Expect(outcome.Synthetic).To(BeTrue())
				Expect(outcome.Notice).To(Equal(BasicInfoNotice))

				inserted := store.Inserted()
				Expect(inserted).To(HaveLen(1))
				Expect(inserted[0].Description).To(Equal(expense.SyntheticDescription))
				Expect(inserted[0].Date).To(Equal("2024-03-05"))
				Expect(inserted[0].Amount.String()).To(Equal("0.00"))
				Expect(inserted[0].Source).To(Equal(SyntheticSource))
			})

			It("reports the failed attempt and then completion", func() {
				Expect(observer.Errors()).To(HaveLen(1))
				Expect(observer.Completes()).To(HaveLen(1))
				Expect(observer.Completes()[0].Notice).To(Equal(BasicInfoNotice))
			})

			It("waits out the backoff before retrying", func() {
				Expect(elapsed).To(BeNumerically(">=", cfg.RetryBackoff))
			})
		})

		When("the scan deadline passes", func() {
			BeforeEach(func() {
				cfg.ScanTimeout = 20 * time.Millisecond
				scanner.err = errors.New("connection refused")
				reader.text = receiptText
				reader.delay = 60 * time.Millisecond
			})

			It("discards late items and retries under the same fingerprint", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(outcome.Attempts).To(Equal(2))
				Expect(reader.Calls()).To(Equal(2))
				Expect(outcome.Synthetic).To(BeTrue())
				Expect(outcome.Strategy).To(Equal(SyntheticSource))
			})

			It("saves only the placeholder and frees the file", func() {
				inserted := store.Inserted()
				Expect(inserted).To(HaveLen(1))
				Expect(inserted[0].Description).To(Equal(expense.SyntheticDescription))
				Expect(observer.Completes()).To(HaveLen(1))
				Expect(registry.Held(fingerprint())).To(BeFalse())
			})
		})

		When("only the single most expensive item is wanted", func() {
			BeforeEach(func() {
				req.Single = true
				scanner.data = &scanning.ReceiptData{Items: []expense.LineItem{
					{Description: "Gum", Amount: expense.MustMoney("1.25"), Date: "2024-03-01"},
					{Description: "Headphones", Amount: expense.MustMoney("59.99"), Date: "2024-03-01"},
				}}
			})

			It("commits only that item", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(outcome.Items).To(HaveLen(1))
				Expect(store.Inserted()).To(HaveLen(1))
				Expect(store.Inserted()[0].Description).To(Equal("Headphones"))
			})
		})

		When("in manual mode", func() {
			BeforeEach(func() {
				req.Mode = Manual
				req.OwnerID = ""
				scanner.data = &scanning.ReceiptData{Items: []expense.LineItem{
					{Description: "Milk", Amount: expense.MustMoney("3.49"), Date: "2024-03-01"},
				}}
			})

			It("returns items for review without saving", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(outcome.Committed).To(BeFalse())
				Expect(outcome.Items).To(HaveLen(1))
				Expect(store.Inserted()).To(BeEmpty())
				Expect(observer.Completes()).To(HaveLen(1))
			})
		})

		When("there is no owner", func() {
			BeforeEach(func() {
				req.OwnerID = "  "
			})

			It("refuses to scan", func() {
				Expect(err).To(MatchError(ErrNoOwner))
				Expect(outcome).To(BeNil())
				Expect(scanner.Calls()).To(Equal(0))
			})
		})

		When("saving fails", func() {
			BeforeEach(func() {
				store.insertErr = errors.New("disk full")
				scanner.data = &scanning.ReceiptData{Items: []expense.LineItem{
					{Description: "Milk", Amount: expense.MustMoney("3.49"), Date: "2024-03-01"},
				}}
			})

			It("returns a commit error and reports it", func() {
				Expect(err).To(MatchError(ErrCommitFailed))
				Expect(err.Error()).To(ContainSubstring("disk full"))
				Expect(outcome.Committed).To(BeFalse())
				Expect(observer.Errors()).To(HaveLen(1))
				Expect(observer.Completes()).To(BeEmpty())
				Expect(registry.Held(fingerprint())).To(BeFalse())
			})
		})

		When("the same file is already being scanned", func() {
			BeforeEach(func() {
				Expect(registry.TryAcquire(fingerprint())).To(BeTrue())
			})

			It("rejects the duplicate", func() {
				Expect(err).To(MatchError(ErrDuplicateScan))
				Expect(scanner.Calls()).To(Equal(0))
				Expect(registry.Held(fingerprint())).To(BeTrue())
			})
		})
	})

	Describe("Cancel", func() {
		BeforeEach(func() {
			scanner.release = make(chan struct{})
			scanner.data = &scanning.ReceiptData{Items: []expense.LineItem{
				{Description: "Milk", Amount: expense.MustMoney("3.49")},
			}}
			cfg.ScanTimeout = 5 * time.Second
		})

		It("discards the result and frees the file", func() {
			build()
			// Keep the remote strategy waiting until after the cancel
			controller.extractor = scanning.NewCoordinator(discard,
				scanning.NewRemoteStrategy(scanner, 5*time.Second, nil, discard),
			)

			done := make(chan error, 1)
			go func() {
				_, err := controller.Process(context.Background(), req, observer)
				done <- err
			}()

			Eventually(func() bool {
				_, ok := controller.Status(fingerprint())
				return ok
			}).Should(BeTrue())

			Expect(controller.Cancel(fingerprint())).To(BeTrue())
			Expect(registry.Held(fingerprint())).To(BeFalse())

			close(scanner.release)
			Eventually(done).Should(Receive(MatchError(ErrScanCanceled)))

			Expect(store.Inserted()).To(BeEmpty())
			Expect(observer.Completes()).To(BeEmpty())
			_, ok := controller.Status(fingerprint())
			Expect(ok).To(BeFalse())
		})

		It("keeps expenses saved while the cancel arrived", func() {
			scanner.release = nil
			store.started = make(chan struct{})
			store.hold = make(chan struct{})
			build()

			type result struct {
				outcome *Outcome
				err     error
			}
			done := make(chan result, 1)
			go func() {
				o, err := controller.Process(context.Background(), req, observer)
				done <- result{o, err}
			}()

			Eventually(store.started).Should(BeClosed())
			Expect(controller.Cancel(fingerprint())).To(BeTrue())
			close(store.hold)

			var r result
			Eventually(done).Should(Receive(&r))
			Expect(r.err).NotTo(HaveOccurred())
			Expect(r.outcome.Committed).To(BeTrue())
			Expect(store.Inserted()).To(HaveLen(1))
			Expect(observer.Completes()).To(BeEmpty())
			Expect(registry.Held(fingerprint())).To(BeFalse())
		})

		It("is false for unknown scans", func() {
			build()
			Expect(controller.Cancel("nope")).To(BeFalse())
		})
	})

	Describe("Commit", func() {
		var items []expense.LineItem

		BeforeEach(func() {
			items = []expense.LineItem{
				{Description: "Milk", Amount: expense.MustMoney("3.49"), Date: "2024-03-01", Category: "Food", PaymentMethod: "Card"},
				{Description: "Bread", Amount: expense.MustMoney("2.99"), Date: "2024-03-01", Category: "Food", PaymentMethod: "Card"},
			}
		})

		JustBeforeEach(func() {
			build()
		})

		It("assigns ids and the owner", func() {
			expenses, err := controller.Commit(context.Background(), "alice", items, CommitMeta{Source: "manual"})
			Expect(err).NotTo(HaveOccurred())
			Expect(expenses).To(HaveLen(2))
			Expect(expenses[0].ID).NotTo(Equal(expenses[1].ID))
			Expect(expenses[1].OwnerID).To(Equal("alice"))
			Expect(expenses[1].Source).To(Equal("manual"))
		})

		It("requires an owner", func() {
			_, err := controller.Commit(context.Background(), "", items, CommitMeta{})
			Expect(err).To(MatchError(ErrNoOwner))
		})

		When("the store stops part way", func() {
			BeforeEach(func() {
				store.partialAfter = 1
			})

			It("returns what was saved with the error", func() {
				expenses, err := controller.Commit(context.Background(), "alice", items, CommitMeta{})
				Expect(err).To(MatchError(ErrCommitFailed))
				Expect(err.Error()).To(ContainSubstring("saved 1 of 2"))
				Expect(expenses).To(HaveLen(1))
				Expect(expenses[0].Description).To(Equal("Milk"))
			})
		})
	})
})

var _ = Describe("ParseMode", func() {
	DescribeTable("parsing",
		func(in string, expected Mode, ok bool) {
			mode, err := ParseMode(in)
			if !ok {
				Expect(err).To(HaveOccurred())
				return
			}
			Expect(err).NotTo(HaveOccurred())
			Expect(mode).To(Equal(expected))
		},
		Entry("empty defaults to auto", "", Auto, true),
		Entry("auto", "auto", Auto, true),
		Entry("manual in caps", "MANUAL", Manual, true),
		Entry("unknown", "later", Mode(""), false),
	)
})

var _ = Describe("Config", func() {
	It("fills zero values with the defaults", func() {
		cfg := Config{}.withDefaults()
		Expect(cfg.MaxAttempts).To(Equal(DefaultMaxAttempts))
		Expect(cfg.RetryBackoff).To(Equal(DefaultRetryBackoff))
		Expect(cfg.ScanTimeout).To(Equal(DefaultScanTimeout))
	})

	It("keeps explicit values", func() {
		cfg := Config{MaxAttempts: 3, RetryBackoff: time.Second, ScanTimeout: time.Minute}.withDefaults()
		Expect(cfg).To(Equal(Config{MaxAttempts: 3, RetryBackoff: time.Second, ScanTimeout: time.Minute}))
	})
})
