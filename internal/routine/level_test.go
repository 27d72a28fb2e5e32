package routine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dokzlo13/podd/internal/actuator"
	"github.com/dokzlo13/podd/internal/db"
	"github.com/dokzlo13/podd/internal/storage"
)

// scriptSensor replays a fixed reading sequence, then repeats the final
// value forever.
type scriptSensor struct {
	mu  sync.Mutex
	seq []int
}

func (s *scriptSensor) ReadLevelMM() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.seq) == 0 {
		return -1
	}
	v := s.seq[0]
	if len(s.seq) > 1 {
		s.seq = s.seq[1:]
	}
	return v
}

func (s *scriptSensor) set(seq ...int) {
	s.mu.Lock()
	s.seq = seq
	s.mu.Unlock()
}

// drained reports whether only the repeating final value remains.
func (s *scriptSensor) drained() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seq) <= 1
}

// constPower reports a fixed draw.
type constPower struct{ mw float64 }

func (p constPower) ReadPowerMW() float64   { return p.mw }
func (p constPower) ReadVoltageMV() float64 { return 12000 }
func (p constPower) ReadCurrentMA() float64 { return p.mw / 12.0 }

// dutyDriver remembers the last duty driven per actuator.
type dutyDriver struct {
	mu   sync.Mutex
	last map[actuator.Index]int
}

func newDutyDriver() *dutyDriver {
	return &dutyDriver{last: make(map[actuator.Index]int)}
}

func (d *dutyDriver) Drive(idx actuator.Index, duty int) error {
	d.mu.Lock()
	d.last[idx] = duty
	d.mu.Unlock()
	return nil
}

func (d *dutyDriver) lastDuty(idx actuator.Index) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last[idx]
}

var testTiming = Timing{
	Poll:          2 * time.Millisecond,
	ConfirmPoll:   2 * time.Millisecond,
	SafetyTimeout: 2 * time.Second,
	Debounce:      3,
}

// newTestEngine builds an engine against a throwaway database, a scripted
// sensor, and a live command queue.
func newTestEngine(t *testing.T, sensor *scriptSensor, timing Timing, cal *storage.Calibration) (*Engine, *Registry, *dutyDriver) {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "podd.sqlite"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	store := storage.New(database.DB)
	if cal != nil {
		if err := store.SaveCalibration(*cal); err != nil {
			t.Fatalf("save calibration: %v", err)
		}
	}

	driver := newDutyDriver()
	queue := actuator.NewQueue(driver)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go queue.Run(ctx)

	registry := NewRegistry()
	engine := NewEngine(registry, queue, sensor, constPower{mw: 1800}, store, nil, NewConfirmSignal(), timing)
	return engine, registry, driver
}

// waitTerminal polls until the routine reaches a terminal status.
func waitTerminal(t *testing.T, reg *Registry, id int, deadline time.Duration) Record {
	t.Helper()
	stop := time.Now().Add(deadline)
	for time.Now().Before(stop) {
		rec, ok := reg.Find(id)
		if ok && (rec.Status == StatusCompleted || rec.Status == StatusFailed) {
			return rec
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("routine %d did not finish within %v", id, deadline)
	return Record{}
}

func TestTargetDistance(t *testing.T) {
	calibrated := storage.Calibration{RawEmptyMM: 800, RawFullMM: 100, HeadspaceMM: 100, Calibrated: true}

	tests := []struct {
		name     string
		cal      storage.Calibration
		percent  int
		fallback int
		want     int
	}{
		{"calibrated_50pct", calibrated, 50, 999, 450},
		{"calibrated_0pct", calibrated, 0, 999, 800},
		{"calibrated_100pct", calibrated, 100, 999, 100},
		{"percent_clamped_high", calibrated, 120, 999, 100},
		{"percent_clamped_low", calibrated, -10, 999, 800},
		{"uncalibrated_falls_back", storage.Calibration{}, 50, 777, 777},
		{"inverted_calibration_falls_back", storage.Calibration{RawEmptyMM: 100, RawFullMM: 800, Calibrated: true}, 50, 777, 777},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := targetDistance(tt.cal, tt.percent, tt.fallback); got != tt.want {
				t.Errorf("targetDistance = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEmptyPodTerminatesOnDebouncedTarget(t *testing.T) {
	// Calibrated 800/100, 50% target resolves to 450 mm. Draining raises
	// the reading; the first value feeds the start-height read, the rest
	// feed the poll loop. Confirming ticks are the three 450s.
	sensor := &scriptSensor{}
	sensor.set(430, 440, 445, 450, 450, 450)

	cal := &storage.Calibration{RawEmptyMM: 800, RawFullMM: 100, HeadspaceMM: 100, Calibrated: true}
	engine, registry, driver := newTestEngine(t, sensor, testTiming, cal)

	id, err := engine.StartEmpty(context.Background(), 50)
	if err != nil {
		t.Fatalf("StartEmpty: %v", err)
	}

	rec := waitTerminal(t, registry, id, 2*time.Second)
	if rec.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", rec.Status)
	}
	if rec.StartHeightMM != 430 {
		t.Errorf("start height = %d, want 430", rec.StartHeightMM)
	}
	if rec.EndHeightMM != 450 {
		t.Errorf("end height = %d, want 450", rec.EndHeightMM)
	}
	if rec.PowerUsedMWS <= 0 {
		t.Errorf("power used = %v, want > 0", rec.PowerUsedMWS)
	}

	// Pump must be off after completion.
	if duty := driver.lastDuty(actuator.DrainPump); duty != 0 {
		t.Errorf("drain pump duty after completion = %d, want 0", duty)
	}
}

func TestFillPodTerminatesOnDebouncedTarget(t *testing.T) {
	// Mirror case: filling lowers the reading towards 450; only the three
	// 450s satisfy reading <= target.
	sensor := &scriptSensor{}
	sensor.set(470, 460, 455, 450, 450, 450)

	cal := &storage.Calibration{RawEmptyMM: 800, RawFullMM: 100, HeadspaceMM: 100, Calibrated: true}
	engine, registry, driver := newTestEngine(t, sensor, testTiming, cal)

	id, err := engine.StartFill(context.Background(), 50)
	if err != nil {
		t.Fatalf("StartFill: %v", err)
	}

	rec := waitTerminal(t, registry, id, 2*time.Second)
	if rec.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", rec.Status)
	}
	if rec.EndHeightMM != 450 {
		t.Errorf("end height = %d, want 450", rec.EndHeightMM)
	}
	if duty := driver.lastDuty(actuator.SourcePump); duty != 0 {
		t.Errorf("source pump duty after completion = %d, want 0", duty)
	}
}

func TestInvalidReadingsDoNotResetDebounce(t *testing.T) {
	// Two confirming reads, an invalid one, then the third confirming read.
	// The trailing 400s mean a debounce reset would run to the safety
	// timeout instead of completing promptly.
	sensor := &scriptSensor{}
	sensor.set(400, 450, 450, -1, 450, 400)

	cal := &storage.Calibration{RawEmptyMM: 800, RawFullMM: 100, HeadspaceMM: 100, Calibrated: true}
	engine, registry, _ := newTestEngine(t, sensor, testTiming, cal)

	id, err := engine.StartEmpty(context.Background(), 50)
	if err != nil {
		t.Fatalf("StartEmpty: %v", err)
	}

	rec := waitTerminal(t, registry, id, time.Second)
	if rec.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", rec.Status)
	}
	if rec.EndHeightMM != 450 {
		t.Errorf("end height = %d, want 450", rec.EndHeightMM)
	}
}

func TestLevelRoutineSafetyTimeout(t *testing.T) {
	// The level never reaches the target; the routine must stop at the
	// safety timeout and still complete (timeout is a normal exit).
	sensor := &scriptSensor{}
	sensor.set(400)

	timing := testTiming
	timing.SafetyTimeout = 50 * time.Millisecond

	cal := &storage.Calibration{RawEmptyMM: 800, RawFullMM: 100, HeadspaceMM: 100, Calibrated: true}
	engine, registry, driver := newTestEngine(t, sensor, timing, cal)

	start := time.Now()
	id, err := engine.StartEmpty(context.Background(), 50)
	if err != nil {
		t.Fatalf("StartEmpty: %v", err)
	}

	rec := waitTerminal(t, registry, id, 2*time.Second)
	elapsed := time.Since(start)

	if rec.Status != StatusCompleted {
		t.Errorf("status = %s, want completed (timeout is not a failure)", rec.Status)
	}
	if elapsed < timing.SafetyTimeout {
		t.Errorf("finished after %v, before the %v safety timeout", elapsed, timing.SafetyTimeout)
	}
	if duty := driver.lastDuty(actuator.DrainPump); duty != 0 {
		t.Errorf("drain pump duty after timeout = %d, want 0", duty)
	}
}

func TestUncalibratedEmptyUsesFallbackTarget(t *testing.T) {
	// No stored calibration: the routine heads for the fixed default target.
	sensor := &scriptSensor{}
	sensor.set(500, defaultEmptyTargetMM, defaultEmptyTargetMM, defaultEmptyTargetMM)

	engine, registry, _ := newTestEngine(t, sensor, testTiming, nil)

	id, err := engine.StartEmpty(context.Background(), 50)
	if err != nil {
		t.Fatalf("StartEmpty: %v", err)
	}

	rec := waitTerminal(t, registry, id, time.Second)
	if rec.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", rec.Status)
	}
	if rec.EndHeightMM != defaultEmptyTargetMM {
		t.Errorf("end height = %d, want %d", rec.EndHeightMM, defaultEmptyTargetMM)
	}
}
