package schedule

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		TenantID:               "t1",
		Timezone:               "Europe/Berlin",
		SlotGranularityMinutes: 15,
		Services: []Service{
			{ID: "cut", Name: "Haircut", DurationMinutes: 30},
		},
		Staff: []Staff{
			{ID: "alice", Name: "Alice", WorkingDays: []string{"monday", "friday"}},
		},
		OpeningHours: map[string][]Span{
			"monday": {{Start: "09:00", End: "17:00"}},
		},
	}
}

func TestValidateAccepts(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"missing tenant", func(c *Config) { c.TenantID = "" }, "tenant_id"},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, "timezone"},
		{"zero granularity", func(c *Config) { c.SlotGranularityMinutes = 0 }, "granularity"},
		{"no services", func(c *Config) { c.Services = nil }, "service"},
		{"duplicate service", func(c *Config) {
			c.Services = append(c.Services, Service{ID: "cut", DurationMinutes: 10})
		}, "duplicate service"},
		{"zero duration", func(c *Config) { c.Services[0].DurationMinutes = 0 }, "duration"},
		{"negative buffer", func(c *Config) { c.Services[0].BufferMinutes = -5 }, "buffer"},
		{"duplicate staff", func(c *Config) {
			c.Staff = append(c.Staff, Staff{ID: "alice"})
		}, "duplicate staff"},
		{"bad weekday", func(c *Config) { c.Staff[0].WorkingDays = []string{"funday"} }, "weekday"},
		{"bad opening day", func(c *Config) {
			c.OpeningHours["caturday"] = []Span{{Start: "09:00", End: "10:00"}}
		}, "weekday"},
		{"bad span clock", func(c *Config) {
			c.OpeningHours["monday"] = []Span{{Start: "9am", End: "17:00"}}
		}, "time of day"},
		{"inverted span", func(c *Config) {
			c.OpeningHours["monday"] = []Span{{Start: "17:00", End: "09:00"}}
		}, "after"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("error %q does not mention %q", err, tc.wantSub)
			}
		})
	}
}

func TestStaffWorking(t *testing.T) {
	cfg := validConfig()
	if got := cfg.StaffWorking(time.Monday); len(got) != 1 {
		t.Errorf("Monday staff = %d, want 1", len(got))
	}
	if got := cfg.StaffWorking(time.Sunday); len(got) != 0 {
		t.Errorf("Sunday staff = %d, want 0", len(got))
	}
}

func TestSpanResolveDST(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	sp := Span{Start: "09:00", End: "17:00"}

	// 2026-03-29 is the CET->CEST switch; local clock times still resolve.
	start, end := sp.Resolve(2026, time.March, 29, loc)
	if start.Location() != time.UTC || end.Location() != time.UTC {
		t.Error("Resolve must return UTC instants")
	}
	// 09:00 CEST is 07:00 UTC after the spring-forward.
	if start.Hour() != 7 {
		t.Errorf("start hour UTC = %d, want 7", start.Hour())
	}
	if got := end.Sub(start); got != 8*time.Hour {
		t.Errorf("span length = %v, want 8h", got)
	}
}

func TestServiceAndStaffLookup(t *testing.T) {
	cfg := validConfig()
	if _, err := cfg.ServiceByID("cut"); err != nil {
		t.Errorf("known service: %v", err)
	}
	if _, err := cfg.ServiceByID("nope"); err == nil {
		t.Error("unknown service should error")
	}
	if _, err := cfg.StaffByID("alice"); err != nil {
		t.Errorf("known staff: %v", err)
	}
	if _, err := cfg.StaffByID("nope"); err == nil {
		t.Error("unknown staff should error")
	}
}
