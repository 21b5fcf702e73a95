package core

import (
	"testing"
	"time"

	"hushd/internal/config"
	"hushd/internal/notification"
)

func TestMapDispatchDefaultsWhenOmitted(t *testing.T) {
	t.Parallel()
	c, err := mapDispatch(&config.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if !c.Enabled {
		t.Fatal("dispatch should default to enabled")
	}
}

func TestMapDispatchParsesDurations(t *testing.T) {
	t.Parallel()
	c, err := mapDispatch(&config.Config{Dispatch: &config.DispatchConfig{
		Enabled:   true,
		RetryBase: "250ms",
	}})
	if err != nil {
		t.Fatal(err)
	}
	if c.RetryBase != 250*time.Millisecond {
		t.Fatalf("retry base = %v", c.RetryBase)
	}

	if _, err := mapDispatch(&config.Config{Dispatch: &config.DispatchConfig{RetryBase: "soon"}}); err == nil {
		t.Fatal("bad duration must fail")
	}
}

func TestMapQueueSlots(t *testing.T) {
	t.Parallel()
	c, err := mapQueue(&config.Config{Queue: config.QueueConfig{
		DailySlot:  "19:30",
		SmartSlots: []string{"12:00", "20:15"},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if c.DailySlot == nil || c.DailySlot.Hour != 19 || c.DailySlot.Minute != 30 {
		t.Fatalf("daily slot = %+v", c.DailySlot)
	}
	if len(c.SmartSlots) != 2 || c.SmartSlots[1].Minute != 15 {
		t.Fatalf("smart slots = %+v", c.SmartSlots)
	}
}

func TestMapPipelineStrategy(t *testing.T) {
	t.Parallel()
	c, err := mapPipeline(&config.Config{Pipeline: config.PipelineConfig{BundleStrategy: "aggressive"}})
	if err != nil {
		t.Fatal(err)
	}
	if c.BundleStrategy != notification.BundleAggressive {
		t.Fatalf("strategy = %v", c.BundleStrategy)
	}
}

func TestSinkChanged(t *testing.T) {
	t.Parallel()
	logCfg := &config.Config{Dispatch: &config.DispatchConfig{Sink: "log"}}
	tgCfg := &config.Config{Dispatch: &config.DispatchConfig{Sink: "telegram"}}
	if sinkChanged(logCfg, logCfg) {
		t.Fatal("same sink reported as changed")
	}
	if !sinkChanged(logCfg, tgCfg) {
		t.Fatal("sink change not detected")
	}
}
