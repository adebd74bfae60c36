package registry

import "testing"

func TestAddBackendDuplicateID(t *testing.T) {
	r := New()
	b1 := NewBackend("b1", "one", "http://host:1", Ollama, 1, Static)
	b2 := NewBackend("b1", "two", "http://host:2", Ollama, 1, Static)

	if err := r.AddBackend(b1); err != nil {
		t.Fatalf("AddBackend(b1) = %v, want nil", err)
	}
	if err := r.AddBackend(b2); err == nil {
		t.Fatal("AddBackend(b2) = nil, want ErrDuplicate")
	}
}

func TestAddBackendDuplicateURLNormalized(t *testing.T) {
	r := New()
	b1 := NewBackend("b1", "one", "http://host:1/", Ollama, 1, Static)
	b2 := NewBackend("b2", "two", "http://host:1", Ollama, 1, Static)

	if err := r.AddBackend(b1); err != nil {
		t.Fatalf("AddBackend(b1) = %v, want nil", err)
	}
	if err := r.AddBackend(b2); err == nil {
		t.Fatal("AddBackend(b2) = nil, want ErrDuplicate on normalized URL collision")
	}
}

func TestHasBackendURLTrailingSlashInsensitive(t *testing.T) {
	r := New()
	b := NewBackend("b1", "one", "http://host:1", Ollama, 1, Static)
	if err := r.AddBackend(b); err != nil {
		t.Fatalf("AddBackend = %v", err)
	}
	if !r.HasBackendURL("http://host:1/") {
		t.Fatal("HasBackendURL with trailing slash = false, want true")
	}
}

func TestRemoveBackendPurgesModelIndex(t *testing.T) {
	r := New()
	b := NewBackend("b1", "one", "http://host:1", Ollama, 1, Static)
	if err := r.AddBackend(b); err != nil {
		t.Fatalf("AddBackend = %v", err)
	}
	r.UpdateModels("b1", []Model{{ID: "llama3", Name: "llama3"}})

	if got := r.GetBackendsForModel("llama3"); len(got) != 1 {
		t.Fatalf("GetBackendsForModel before remove = %d backends, want 1", len(got))
	}

	r.RemoveBackend("b1")

	if got := r.GetBackendsForModel("llama3"); len(got) != 0 {
		t.Fatalf("GetBackendsForModel after remove = %d backends, want 0", len(got))
	}
	if _, ok := r.GetBackend("b1"); ok {
		t.Fatal("GetBackend after remove = found, want not found")
	}
}

func TestUpdateModelsRebuildsIndexDelta(t *testing.T) {
	r := New()
	b := NewBackend("b1", "one", "http://host:1", Ollama, 1, Static)
	if err := r.AddBackend(b); err != nil {
		t.Fatalf("AddBackend = %v", err)
	}

	r.UpdateModels("b1", []Model{{ID: "llama3"}, {ID: "mistral"}})
	if got := r.GetBackendsForModel("llama3"); len(got) != 1 {
		t.Fatalf("llama3 indexed by %d backends, want 1", len(got))
	}

	r.UpdateModels("b1", []Model{{ID: "mistral"}})
	if got := r.GetBackendsForModel("llama3"); len(got) != 0 {
		t.Fatalf("llama3 still indexed after replacement: %d backends, want 0", len(got))
	}
	if got := r.GetBackendsForModel("mistral"); len(got) != 1 {
		t.Fatalf("mistral indexed by %d backends, want 1", len(got))
	}
}

func TestDecrementPendingSaturatesAtZero(t *testing.T) {
	r := New()
	b := NewBackend("b1", "one", "http://host:1", Ollama, 1, Static)
	if err := r.AddBackend(b); err != nil {
		t.Fatalf("AddBackend = %v", err)
	}

	r.DecrementPending("b1")
	r.DecrementPending("b1")
	snap, _ := r.GetBackend("b1")
	if snap.PendingRequests() != 0 {
		t.Fatalf("PendingRequests = %d, want 0", snap.PendingRequests())
	}

	r.IncrementPending("b1")
	r.IncrementPending("b1")
	r.DecrementPending("b1")
	snap, _ = r.GetBackend("b1")
	if snap.PendingRequests() != 1 {
		t.Fatalf("PendingRequests = %d, want 1", snap.PendingRequests())
	}
}

func TestUpdateStatusIdempotent(t *testing.T) {
	r := New()
	b := NewBackend("b1", "one", "http://host:1", Ollama, 1, Static)
	if err := r.AddBackend(b); err != nil {
		t.Fatalf("AddBackend = %v", err)
	}

	r.UpdateStatus("b1", StatusUnhealthy, "connection refused")
	r.UpdateStatus("b1", StatusUnhealthy, "connection refused")

	snap, _ := r.GetBackend("b1")
	if snap.Status() != StatusUnhealthy {
		t.Fatalf("Status = %v, want Unhealthy", snap.Status())
	}
	if snap.LastError() != "connection refused" {
		t.Fatalf("LastError = %q, want %q", snap.LastError(), "connection refused")
	}
}

func TestFindByMDNSInstance(t *testing.T) {
	r := New()
	b := NewBackend("b1", "one", "http://host:1", Ollama, 1, MDNS)
	b.Metadata["mdns_instance"] = "ollama-gpu._ollama._tcp.local."
	if err := r.AddBackend(b); err != nil {
		t.Fatalf("AddBackend = %v", err)
	}

	id, ok := r.FindByMDNSInstance("ollama-gpu._ollama._tcp.local.")
	if !ok || id != "b1" {
		t.Fatalf("FindByMDNSInstance = (%q, %v), want (b1, true)", id, ok)
	}
}

func TestBackendTypeIsLocal(t *testing.T) {
	local := []BackendType{Ollama, VLLM, LlamaCpp, Exo, LMStudio}
	for _, bt := range local {
		if !bt.IsLocal() {
			t.Errorf("%s.IsLocal() = false, want true", bt)
		}
	}
	notLocal := []BackendType{OpenAI, Generic}
	for _, bt := range notLocal {
		if bt.IsLocal() {
			t.Errorf("%s.IsLocal() = true, want false", bt)
		}
	}
}
