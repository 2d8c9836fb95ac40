package etcd

import "testing"

func TestKeyLayout(t *testing.T) {
	r := NewRegistry(nil, "/services/")
	if got := r.Key(ServiceHTTP, "10.0.0.7:8080"); got != "/services/legisgraph-http/10.0.0.7:8080" {
		t.Errorf("unexpected key %s", got)
	}
	if got := NewRegistry(nil, "kg").servicePrefix("x"); got != "/kg/x/" {
		t.Errorf("unexpected prefix %s", got)
	}
}
