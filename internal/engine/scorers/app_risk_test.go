package scorers

import (
	"math/rand"
	"reflect"
	"testing"
	"testing/quick"

	"github.com/cybershield-x/shield/internal/engine"
)

func newAppScorer() *AppRiskScorer {
	return NewAppRiskScorer(engine.DefaultRuleSet().App)
}

func TestAppRiskScorer_WorkedExample(t *testing.T) {
	s := newAppScorer()
	res := s.Score(&engine.AppProfile{
		PackageName: "com.example.photo",
		AppName:     "Photo Editor",
		Permissions: []string{"READ_SMS", "READ_CONTACTS", "CAMERA", "RECORD_AUDIO", "ACCESS_FINE_LOCATION", "INTERNET"},
	})

	if res.Score != 0.3 {
		t.Errorf("score = %v, want 0.3", res.Score)
	}
	if res.Label != engine.LabelSafe {
		t.Errorf("label = %v, want Safe", res.Label)
	}
	if res.ThreatType != engine.ThreatNone {
		t.Errorf("threat type = %q, want None", res.ThreatType)
	}
	want := []string{"several permissions", "internet + sensitive data access"}
	if !reflect.DeepEqual(res.Reasons, want) {
		t.Errorf("reasons = %v, want %v", res.Reasons, want)
	}
}

func TestAppRiskScorer_Rules(t *testing.T) {
	s := newAppScorer()

	tests := []struct {
		name       string
		profile    engine.AppProfile
		wantScore  float64
		wantLabel  engine.Label
		wantThreat string
	}{
		{
			name:       "empty profile",
			profile:    engine.AppProfile{PackageName: "com.example.notes", AppName: "Notes"},
			wantScore:  0,
			wantLabel:  engine.LabelSafe,
			wantThreat: engine.ThreatNone,
		},
		{
			name:       "four dangerous is several",
			profile:    engine.AppProfile{PackageName: "com.example.a", AppName: "A", Permissions: []string{"CAMERA", "RECORD_AUDIO", "CALL_PHONE", "READ_PHONE_STATE"}},
			wantScore:  0.15,
			wantLabel:  engine.LabelSafe,
			wantThreat: engine.ThreatNone,
		},
		{
			name:       "three dangerous adds nothing",
			profile:    engine.AppProfile{PackageName: "com.example.a", AppName: "A", Permissions: []string{"CAMERA", "RECORD_AUDIO", "CALL_PHONE"}},
			wantScore:  0,
			wantLabel:  engine.LabelSafe,
			wantThreat: engine.ThreatNone,
		},
		{
			name: "seven dangerous non-system is suspicious",
			profile: engine.AppProfile{PackageName: "com.example.a", AppName: "A", Permissions: []string{
				"CAMERA", "RECORD_AUDIO", "CALL_PHONE", "READ_PHONE_STATE", "WRITE_SETTINGS", "SYSTEM_ALERT_WINDOW", "ACCESS_COARSE_LOCATION",
			}},
			wantScore:  0.45,
			wantLabel:  engine.LabelSuspicious,
			wantThreat: engine.ThreatNone,
		},
		{
			name: "seven dangerous system app",
			profile: engine.AppProfile{PackageName: "com.android.a", AppName: "A", IsSystemApp: true, Permissions: []string{
				"CAMERA", "RECORD_AUDIO", "CALL_PHONE", "READ_PHONE_STATE", "WRITE_SETTINGS", "SYSTEM_ALERT_WINDOW", "ACCESS_COARSE_LOCATION",
			}},
			wantScore:  0.25,
			wantLabel:  engine.LabelSafe,
			wantThreat: engine.ThreatNone,
		},
		{
			name: "sms spyware is privacy risk",
			profile: engine.AppProfile{PackageName: "com.spy.sms", AppName: "SMS Tracker", Permissions: []string{
				"READ_SMS", "SEND_SMS", "READ_CONTACTS", "READ_CALL_LOG", "ACCESS_FINE_LOCATION", "CAMERA", "RECORD_AUDIO", "INTERNET",
			}},
			// many (0.25) + name (0.30) + non-system (0.20) + internet (0.15)
			wantScore:  0.9,
			wantLabel:  engine.LabelMalicious,
			wantThreat: engine.ThreatPrivacyRisk,
		},
		{
			name: "wide internet app is data exfiltration",
			profile: engine.AppProfile{PackageName: "com.example.flashlight", AppName: "Flashlight", Permissions: []string{
				"READ_CONTACTS", "CAMERA", "RECORD_AUDIO", "ACCESS_FINE_LOCATION", "ACCESS_COARSE_LOCATION",
				"READ_PHONE_STATE", "CALL_PHONE", "READ_EXTERNAL_STORAGE", "WRITE_EXTERNAL_STORAGE",
				"INTERNET", "VIBRATE",
			}},
			// excessive (0.40) + non-system (0.20) + internet (0.15)
			wantScore:  0.75,
			wantLabel:  engine.LabelMalicious,
			wantThreat: engine.ThreatDataExfiltration,
		},
		{
			name: "suspicious name without privacy permissions",
			profile: engine.AppProfile{PackageName: "com.cheat.engine", AppName: "Game Helper", Permissions: []string{
				"CAMERA", "RECORD_AUDIO", "CALL_PHONE", "READ_PHONE_STATE", "WRITE_SETTINGS", "SYSTEM_ALERT_WINDOW", "ACCESS_COARSE_LOCATION",
			}},
			// many (0.25) + name (0.30) + non-system (0.20)
			wantScore:  0.75,
			wantLabel:  engine.LabelMalicious,
			wantThreat: engine.ThreatPotentiallyUnwanted,
		},
		{
			name: "fully qualified permission names",
			profile: engine.AppProfile{PackageName: "com.example.a", AppName: "A", Permissions: []string{
				"android.permission.CAMERA", "android.permission.RECORD_AUDIO",
				"android.permission.CALL_PHONE", "android.permission.READ_PHONE_STATE",
			}},
			wantScore:  0.15,
			wantLabel:  engine.LabelSafe,
			wantThreat: engine.ThreatNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.profile
			res := s.Score(&p)
			if res.Score != tt.wantScore {
				t.Errorf("score = %v, want %v (reasons %v)", res.Score, tt.wantScore, res.Reasons)
			}
			if res.Label != tt.wantLabel {
				t.Errorf("label = %v, want %v", res.Label, tt.wantLabel)
			}
			if res.ThreatType != tt.wantThreat {
				t.Errorf("threat type = %q, want %q", res.ThreatType, tt.wantThreat)
			}
		})
	}
}

func TestAppRiskScorer_SuspiciousBehaviorFallback(t *testing.T) {
	rules := engine.DefaultRuleSet().App
	rules.SuspiciousKeywords = nil
	rules.PermissionTiers[0].Weight = 0.60
	s := NewAppRiskScorer(rules)

	res := s.Score(&engine.AppProfile{PackageName: "com.example.a", AppName: "A", Permissions: []string{
		"CAMERA", "RECORD_AUDIO", "CALL_PHONE", "READ_PHONE_STATE", "WRITE_SETTINGS",
		"SYSTEM_ALERT_WINDOW", "ACCESS_COARSE_LOCATION", "WRITE_EXTERNAL_STORAGE", "BIND_DEVICE_ADMIN",
	}})
	if res.Label != engine.LabelMalicious {
		t.Fatalf("expected Malicious, got %v (score %v)", res.Label, res.Score)
	}
	if res.ThreatType != engine.ThreatSuspiciousBehavior {
		t.Errorf("threat type = %q, want %q", res.ThreatType, engine.ThreatSuspiciousBehavior)
	}
}

func TestAppRiskScorer_Deterministic(t *testing.T) {
	s := newAppScorer()
	p := &engine.AppProfile{PackageName: "com.hidden.vpn", AppName: "Hidden VPN", Permissions: []string{"INTERNET", "READ_SMS", "CAMERA"}}

	first := s.Score(p)
	second := s.Score(p)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("non-deterministic result: %+v vs %+v", first, second)
	}
}

// permissionSubset generates random subsets of the dangerous set plus INTERNET.
type permissionSubset struct {
	Permissions []string
	IsSystem    bool
	Suspicious  bool
}

func (permissionSubset) Generate(r *rand.Rand, _ int) reflect.Value {
	pool := append([]string{"INTERNET", "VIBRATE", "NFC"}, engine.DefaultRuleSet().App.DangerousPermissions...)
	var perms []string
	for _, p := range pool {
		if r.Intn(2) == 0 {
			perms = append(perms, p)
		}
	}
	return reflect.ValueOf(permissionSubset{
		Permissions: perms,
		IsSystem:    r.Intn(2) == 0,
		Suspicious:  r.Intn(2) == 0,
	})
}

func TestAppRiskScorer_ScoreBoundsProperty(t *testing.T) {
	s := newAppScorer()

	prop := func(in permissionSubset) bool {
		name := "Gallery"
		if in.Suspicious {
			name = "Stealth Gallery"
		}
		res := s.Score(&engine.AppProfile{
			PackageName: "com.example.gallery",
			AppName:     name,
			Permissions: in.Permissions,
			IsSystemApp: in.IsSystem,
		})
		if res.Score < 0 || res.Score > 1 {
			return false
		}
		if res.Label != engine.LabelForScore(res.Score) {
			return false
		}
		if (res.Label == engine.LabelMalicious) != (res.ThreatType != engine.ThreatNone) {
			return false
		}
		return true
	}

	if err := quick.Check(prop, &quick.Config{MaxCount: 2000}); err != nil {
		t.Error(err)
	}
}

func BenchmarkAppRiskScorer(b *testing.B) {
	s := newAppScorer()
	p := &engine.AppProfile{
		PackageName: "com.example.photo",
		AppName:     "Photo Editor",
		Permissions: []string{"READ_SMS", "READ_CONTACTS", "CAMERA", "RECORD_AUDIO", "ACCESS_FINE_LOCATION", "INTERNET"},
	}
	for i := 0; i < b.N; i++ {
		s.Score(p)
	}
}
