package dbsock

import "testing"

func TestSetHandler(t *testing.T) {
	h := NewHandlers()
	defer recoverAsFail(t)

	var got []string
	h.SetHandler("delete_store", func(c *Conn, command string, f *Fields) {
		got = append(got, "first:"+command)
	})
	h.SetHandler("delete_store", func(c *Conn, command string, f *Fields) {
		got = append(got, "second:"+command+":"+f.Text("name"))
	})

	fn := h.FindHandler("delete_store")
	if fn == nil {
		t.Fatalf("handler 'delete_store' not found")
	}
	fn(nil, "delete_store", NewFields().Set("name", Text("Kroger")))
	assertEq(t, 1, len(got))
	assertEq(t, "second:delete_store:Kroger", got[0])

	if h.FindHandler("create_store") != nil {
		t.Errorf("expected no handler for 'create_store'")
	}

	h.SetHandler("delete_store", nil)
	if h.FindHandler("delete_store") != nil {
		t.Errorf("expected 'delete_store' to be removed")
	}
}

func TestFallbackHandler(t *testing.T) {
	h := NewHandlers()
	var fallbackCalls, specificCalls int
	h.SetHandler("", func(*Conn, string, *Fields) { fallbackCalls++ })
	h.SetHandler("delete_inv_item", func(*Conn, string, *Fields) { specificCalls++ })

	h.FindHandler("delete_inv_item")(nil, "delete_inv_item", nil)
	h.FindHandler("anything")(nil, "anything", nil)
	assertEq(t, 1, specificCalls)
	assertEq(t, 1, fallbackCalls)

	h.SetHandler("", nil)
	if h.FindHandler("anything") != nil {
		t.Errorf("expected fallback to be removed")
	}
}

func TestZeroHandlers(t *testing.T) {
	var h Handlers
	if h.FindHandler("x") != nil {
		t.Errorf("expected no handler")
	}
	h.SetHandler("x", func(*Conn, string, *Fields) {})
	if h.FindHandler("x") == nil {
		t.Errorf("expected handler 'x'")
	}
}

func TestDefaultHandlers(t *testing.T) {
	defer DefaultHandlers.SetHandler("test_default", nil)
	SetHandler("test_default", func(*Conn, string, *Fields) {})
	if DefaultHandlers.FindHandler("test_default") == nil {
		t.Errorf("expected handler on DefaultHandlers")
	}
	c := NewConn("ws://localhost/Server", nil)
	if c.Handlers != DefaultHandlers {
		t.Errorf("expected a nil registry to select DefaultHandlers")
	}
}
