package service

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/wicaksana/ukm-sentinel-go/internal/domain"
)

// newRuleContext derives stats and profile from the batch the way the
// service does before running detectors.
func newRuleContext(txns []domain.Transaction) *ruleContext {
	return &ruleContext{
		txns:    txns,
		stats:   computeCategoryStats(txns),
		profile: analyzeBusinessPattern(txns, wib),
		loc:     wib,
	}
}

func TestDetectDuplicates(t *testing.T) {
	base := time.Date(2025, 3, 3, 10, 0, 0, 0, wib)
	txns := []domain.Transaction{
		txn("dup-1", domain.TypeExpense, "Bahan Baku", 50000, base),
		txn("dup-2", domain.TypeExpense, "Bahan Baku", 50000, base.Add(10*time.Minute)),
		txn("other", domain.TypeExpense, "Bahan Baku", 75000, base.Add(20*time.Minute)),
	}

	reasons := detectDuplicates(newRuleContext(txns))

	for _, id := range []string{"dup-1", "dup-2"} {
		r, ok := reasons[id]
		if !ok {
			t.Fatalf("expected %s to be flagged as duplicate", id)
		}
		if r.Type != domain.ReasonDuplicate || r.Severity != domain.SeverityHigh {
			t.Errorf("%s: got %+v, want high-severity duplicate", id, r)
		}
	}
	if _, ok := reasons["other"]; ok {
		t.Error("non-duplicate transaction flagged")
	}
}

func TestDetectDuplicates_OutsideWindow(t *testing.T) {
	base := time.Date(2025, 3, 3, 10, 0, 0, 0, wib)
	txns := []domain.Transaction{
		txn("a", domain.TypeExpense, "Bahan Baku", 50000, base),
		txn("b", domain.TypeExpense, "Bahan Baku", 50000, base.Add(2*time.Hour)),
	}

	if reasons := detectDuplicates(newRuleContext(txns)); len(reasons) != 0 {
		t.Errorf("expected no duplicates beyond the one-hour window, got %v", reasons)
	}
}

func TestDetectDuplicates_DifferentCategory(t *testing.T) {
	base := time.Date(2025, 3, 3, 10, 0, 0, 0, wib)
	txns := []domain.Transaction{
		txn("a", domain.TypeExpense, "Bahan Baku", 50000, base),
		txn("b", domain.TypeExpense, "Listrik", 50000, base.Add(5*time.Minute)),
	}

	if reasons := detectDuplicates(newRuleContext(txns)); len(reasons) != 0 {
		t.Errorf("expected no duplicates across categories, got %v", reasons)
	}
}

func TestDetectLargeExpenses(t *testing.T) {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, wib)
	var txns []domain.Transaction
	for i := 0; i < 19; i++ {
		txns = append(txns, txn("base-"+strconv.Itoa(i), domain.TypeExpense, "Bahan Baku", 50000,
			base.AddDate(0, 0, i)))
	}
	txns = append(txns, txn("spike", domain.TypeExpense, "Bahan Baku", 500000,
		base.AddDate(0, 0, 19)))

	reasons := detectLargeExpenses(newRuleContext(txns))

	r, ok := reasons["spike"]
	if !ok {
		t.Fatal("expected the ten-fold expense to be flagged")
	}
	if r.Type != domain.ReasonLargeExpense || r.Severity != domain.SeverityHigh {
		t.Errorf("got %+v, want high-severity large_expense", r)
	}
	if !strings.Contains(r.Message, "500,000") {
		t.Errorf("message %q does not carry the grouped amount", r.Message)
	}
	if len(reasons) != 1 {
		t.Errorf("flagged %d transactions, want 1", len(reasons))
	}
}

func TestDetectLargeExpenses_IgnoresIncome(t *testing.T) {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, wib)
	var txns []domain.Transaction
	for i := 0; i < 10; i++ {
		txns = append(txns, txn("base-"+strconv.Itoa(i), domain.TypeIncome, "Penjualan", 50000,
			base.AddDate(0, 0, i)))
	}
	txns = append(txns, txn("big-sale", domain.TypeIncome, "Penjualan", 500000,
		base.AddDate(0, 0, 10)))

	if reasons := detectLargeExpenses(newRuleContext(txns)); len(reasons) != 0 {
		t.Errorf("income flagged as large expense: %v", reasons)
	}
}

func TestDetectSalarySpikes(t *testing.T) {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, wib)
	var txns []domain.Transaction
	for i := 0; i < 9; i++ {
		txns = append(txns, txn("gaji-"+strconv.Itoa(i), domain.TypeExpense, "Gaji Karyawan", 100000,
			base.AddDate(0, 0, i)))
	}
	// Mean lands at 120,000; the spike exceeds twice that.
	txns = append(txns, txn("gaji-spike", domain.TypeExpense, "Gaji Karyawan", 300000,
		base.AddDate(0, 0, 9)))

	reasons := detectSalarySpikes(newRuleContext(txns))

	r, ok := reasons["gaji-spike"]
	if !ok {
		t.Fatal("expected the salary spike to be flagged")
	}
	if r.Type != domain.ReasonSalarySpike || r.Severity != domain.SeverityHigh {
		t.Errorf("got %+v, want high-severity salary_spike", r)
	}
	if len(reasons) != 1 {
		t.Errorf("flagged %d transactions, want 1", len(reasons))
	}
}

func TestDetectOperationalSpikes(t *testing.T) {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, wib)
	var txns []domain.Transaction
	for i := 0; i < 5; i++ {
		txns = append(txns, txn("listrik-"+strconv.Itoa(i), domain.TypeExpense, "Listrik", 100000,
			base.AddDate(0, 0, i)))
	}
	txns = append(txns, txn("listrik-spike", domain.TypeExpense, "Listrik", 600000,
		base.AddDate(0, 0, 5)))

	reasons := detectOperationalSpikes(newRuleContext(txns))

	r, ok := reasons["listrik-spike"]
	if !ok {
		t.Fatal("expected the utility spike to be flagged")
	}
	if r.Type != domain.ReasonOperationalSpike || r.Severity != domain.SeverityMedium {
		t.Errorf("got %+v, want medium-severity operational_spike", r)
	}
}

func TestDetectFrequentCapital(t *testing.T) {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, wib)
	txns := []domain.Transaction{
		txn("modal-1", domain.TypeIncome, "Modal", 1000000, base),
		txn("modal-2", domain.TypeIncome, "Modal", 2000000, base.AddDate(0, 0, 1)),
		txn("modal-3", domain.TypeIncome, "Setoran Modal", 1500000, base.AddDate(0, 0, 2)),
		txn("sale", domain.TypeIncome, "Penjualan", 50000, base.AddDate(0, 0, 1)),
	}

	reasons := detectFrequentCapital(newRuleContext(txns))

	for _, id := range []string{"modal-1", "modal-2", "modal-3"} {
		r, ok := reasons[id]
		if !ok {
			t.Fatalf("expected %s to be flagged as frequent capital", id)
		}
		if r.Type != domain.ReasonFrequentCapital || r.Severity != domain.SeverityMedium {
			t.Errorf("%s: got %+v, want medium-severity frequent_capital", id, r)
		}
		if !strings.Contains(r.Message, "3 kali") {
			t.Errorf("%s: message %q does not carry the injection count", id, r.Message)
		}
	}
	if _, ok := reasons["sale"]; ok {
		t.Error("ordinary income flagged as capital injection")
	}
}

func TestDetectFrequentCapital_TwoDepositsPass(t *testing.T) {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, wib)
	txns := []domain.Transaction{
		txn("modal-1", domain.TypeIncome, "Modal", 1000000, base),
		txn("modal-2", domain.TypeIncome, "Modal", 2000000, base.AddDate(0, 0, 2)),
	}

	if reasons := detectFrequentCapital(newRuleContext(txns)); len(reasons) != 0 {
		t.Errorf("two deposits in the window flagged: %v", reasons)
	}
}

func TestDetectFrequentCapital_SpreadDepositsPass(t *testing.T) {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, wib)
	txns := []domain.Transaction{
		txn("modal-1", domain.TypeIncome, "Modal", 1000000, base),
		txn("modal-2", domain.TypeIncome, "Modal", 1000000, base.AddDate(0, 0, 10)),
		txn("modal-3", domain.TypeIncome, "Modal", 1000000, base.AddDate(0, 0, 20)),
	}

	if reasons := detectFrequentCapital(newRuleContext(txns)); len(reasons) != 0 {
		t.Errorf("deposits spread over weeks flagged: %v", reasons)
	}
}

func TestDetectOddHours(t *testing.T) {
	var txns []domain.Transaction
	// Sixty daytime transactions establish the pattern; one at 03:00
	// carries well under 2% of the volume.
	for day := 1; day <= 30; day++ {
		txns = append(txns,
			txn("d-"+strconv.Itoa(day)+"-a", domain.TypeIncome, "Penjualan Harian", 20000,
				time.Date(2025, 3, day, 9, 0, 0, 0, wib)),
			txn("d-"+strconv.Itoa(day)+"-b", domain.TypeIncome, "Penjualan Harian", 20000,
				time.Date(2025, 3, day, 14, 0, 0, 0, wib)),
		)
	}
	txns = append(txns, txn("night", domain.TypeIncome, "Penjualan Harian", 20000,
		time.Date(2025, 3, 31, 3, 0, 0, 0, wib)))

	reasons := detectOddHours(newRuleContext(txns))

	r, ok := reasons["night"]
	if !ok {
		t.Fatal("expected the 03:00 transaction to be flagged")
	}
	if r.Type != domain.ReasonOddHours {
		t.Errorf("reason type = %q, want odd_hours", r.Type)
	}
	if len(reasons) != 1 {
		t.Errorf("flagged %d transactions, want 1", len(reasons))
	}
}

func TestDetectOddHours_RestaurantLateNightSoftened(t *testing.T) {
	var txns []domain.Transaction
	for day := 1; day <= 30; day++ {
		txns = append(txns,
			txn("d-"+strconv.Itoa(day)+"-a", domain.TypeIncome, "Penjualan Menu", 20000,
				time.Date(2025, 3, day, 11, 0, 0, 0, wib)),
			txn("d-"+strconv.Itoa(day)+"-b", domain.TypeIncome, "Penjualan Menu", 20000,
				time.Date(2025, 3, day, 19, 0, 0, 0, wib)),
		)
	}
	txns = append(txns, txn("late", domain.TypeIncome, "Penjualan Menu", 20000,
		time.Date(2025, 3, 31, 23, 0, 0, 0, wib)))

	reasons := detectOddHours(newRuleContext(txns))

	r, ok := reasons["late"]
	if !ok {
		t.Fatal("expected the 23:00 transaction to be flagged")
	}
	if r.Severity != domain.SeverityLow {
		t.Errorf("severity = %q, want low for a restaurant's late-night sale", r.Severity)
	}
}

func TestFormatAmount(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{50000, "50,000"},
		{1234567, "1,234,567"},
		{-50000, "-50,000"},
	}
	for _, tc := range cases {
		if got := formatAmount(tc.in); got != tc.want {
			t.Errorf("formatAmount(%f) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
