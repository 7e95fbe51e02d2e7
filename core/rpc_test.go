package core

import "testing"

func TestRpcProviderRotation(t *testing.T) {
	p := NewRpcProvider([]string{"https://a.example", "https://b.example", "https://c.example"}, 1)

	url, err := p.CurrentURL()
	if err != nil || url != "https://a.example" {
		t.Fatalf("url=%s err=%v", url, err)
	}

	// Two failures keep the endpoint in rotation.
	p.ReportFailure()
	p.ReportFailure()
	if url, _ := p.CurrentURL(); url != "https://a.example" {
		t.Fatalf("failed over too early: %s", url)
	}

	// The third consecutive failure marks it unhealthy and fails over.
	p.ReportFailure()
	if url, _ := p.CurrentURL(); url != "https://b.example" {
		t.Fatalf("no failover: %s", url)
	}
	if p.HealthyCount() != 2 {
		t.Fatalf("healthy=%d want 2", p.HealthyCount())
	}
}

func TestRpcProviderSuccessResetsFailures(t *testing.T) {
	p := NewRpcProvider([]string{"https://a.example"}, 1)
	p.ReportFailure()
	p.ReportFailure()
	p.ReportSuccess()
	p.ReportFailure()
	p.ReportFailure()
	if p.HealthyCount() != 1 {
		t.Fatalf("endpoint unhealthy after interleaved success")
	}
}

func TestRpcProviderAllUnhealthyFallsBack(t *testing.T) {
	p := NewRpcProvider([]string{"https://a.example", "https://b.example"}, 1)
	for i := 0; i < 2*MaxEndpointFailures; i++ {
		p.ReportFailure()
	}
	url, err := p.CurrentURL()
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if url != "https://a.example" {
		t.Fatalf("fallback url=%s want first endpoint", url)
	}
}

func TestRpcProviderMarkHealthy(t *testing.T) {
	p := NewRpcProvider([]string{"https://a.example", "https://b.example"}, 1)
	for i := 0; i < MaxEndpointFailures; i++ {
		p.ReportFailure()
	}
	if p.HealthyCount() != 1 {
		t.Fatalf("healthy=%d want 1", p.HealthyCount())
	}
	p.MarkHealthy("https://a.example")
	if p.HealthyCount() != 2 {
		t.Fatalf("healthy=%d want 2 after recovery", p.HealthyCount())
	}
}

func TestLedgerClientRequiresProxyInProduction(t *testing.T) {
	p := NewRpcProvider([]string{"https://a.example"}, 1)
	if _, err := NewLedgerClient(p, "", true); err == nil {
		t.Fatalf("production client built without proxy")
	}
	if _, err := NewLedgerClient(p, "", false); err != nil {
		t.Fatalf("developer mode refused: %v", err)
	}
	if _, err := NewLedgerClient(p, "127.0.0.1:9050", true); err != nil {
		t.Fatalf("proxied production client refused: %v", err)
	}
}
