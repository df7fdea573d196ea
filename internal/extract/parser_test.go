package extract

import (
	"strings"
	"testing"

	"github.com/trungvv/ripcord/internal/core/domain"
)

func TestParseProgress(t *testing.T) {
	tests := []struct {
		line string
		pct  float64
		ok   bool
	}{
		{"[download]  42.3% of 10.24MiB at 1.05MiB/s ETA 00:05", 42.3, true},
		{"[download] 100% of 10.24MiB in 00:09", 100, true},
		{"[download]   0.0% of ~3.50MiB at Unknown speed", 0, true},
		{"[download] Destination: out.mp4", 0, false},
		{"[youtube] abc: Downloading webpage", 0, false},
	}

	for _, tt := range tests {
		pct, ok := ParseProgress(tt.line)
		if ok != tt.ok || pct != tt.pct {
			t.Errorf("ParseProgress(%q) = (%v, %v), want (%v, %v)", tt.line, pct, ok, tt.pct, tt.ok)
		}
	}
}

func TestParseDestination(t *testing.T) {
	tests := []struct {
		line string
		dest string
		ok   bool
	}{
		{"[download] Destination: clips/My Video.mp4", "clips/My Video.mp4", true},
		{`[Merger] Merging formats into "clips/My Video.mkv"`, "clips/My Video.mkv", true},
		{"[download] clips/Old Video.mp4 has already been downloaded", "clips/Old Video.mp4", true},
		{"[download]  42.3% of 10.24MiB", "", false},
	}

	for _, tt := range tests {
		dest, ok := ParseDestination(tt.line)
		if ok != tt.ok || dest != tt.dest {
			t.Errorf("ParseDestination(%q) = (%q, %v), want (%q, %v)", tt.line, dest, ok, tt.dest, tt.ok)
		}
	}
}

func TestBuildArgs(t *testing.T) {
	e := NewCommandExtractor(CommandConfig{OutputDir: "dl"}, nil)

	req := Request{
		Target:  "https://example.com/watch?v=abc",
		Quality: "720",
		Set: domain.WorkingSet{
			Proxy:    &domain.Resource{Kind: domain.KindProxy, Value: "socks5://127.0.0.1:9050"},
			Session:  &domain.Resource{Kind: domain.KindSession, Value: "cookies.txt"},
			Identity: &domain.Resource{Kind: domain.KindIdentity, Value: "Mozilla/5.0 test"},
		},
	}

	args := strings.Join(e.buildArgs(req), " ")
	for _, want := range []string{
		"--proxy socks5://127.0.0.1:9050",
		"--cookies cookies.txt",
		"--user-agent Mozilla/5.0 test",
		"height<=720",
		"https://example.com/watch?v=abc",
	} {
		if !strings.Contains(args, want) {
			t.Errorf("args missing %q: %s", want, args)
		}
	}
}

func TestBuildArgsEmptyWorkingSet(t *testing.T) {
	e := NewCommandExtractor(CommandConfig{}, nil)
	args := strings.Join(e.buildArgs(Request{Target: "https://example.com/v"}), " ")

	for _, banned := range []string{"--proxy", "--cookies", "--user-agent"} {
		if strings.Contains(args, banned) {
			t.Errorf("nil resource slot leaked flag %q: %s", banned, args)
		}
	}
}
