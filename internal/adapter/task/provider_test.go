package task

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tkrause/jobgate/internal/domain"
)

func TestProvider_Execute_Success(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"slides":["a","b"]}`))
	}))
	defer srv.Close()

	p := NewProvider(domain.TypeOutline, srv.URL)
	result, err := p.Execute(context.Background(), []byte(`{"topic":"go"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if string(result) != `{"slides":["a","b"]}` {
		t.Errorf("result = %s", result)
	}
	if string(gotBody) != `{"topic":"go"}` {
		t.Errorf("provider received %s", gotBody)
	}
}

func TestProvider_Execute_Classification(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantTransient bool
	}{
		{"server error is transient", http.StatusInternalServerError, true},
		{"bad gateway is transient", http.StatusBadGateway, true},
		{"bad request is permanent", http.StatusBadRequest, false},
		{"unprocessable is permanent", http.StatusUnprocessableEntity, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			p := NewProvider(domain.TypeConversion, srv.URL)
			_, err := p.Execute(context.Background(), []byte(`{}`))
			if err == nil {
				t.Fatal("Execute() error = nil")
			}
			var te *domain.TaskError
			if !errors.As(err, &te) {
				t.Fatalf("Execute() error %v is not a TaskError", err)
			}
			if te.Transient != tt.wantTransient {
				t.Errorf("Transient = %v, want %v", te.Transient, tt.wantTransient)
			}
		})
	}
}

func TestProvider_Execute_ConnectionErrorTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening anymore

	p := NewProvider(domain.TypeConversion, srv.URL)
	_, err := p.Execute(context.Background(), []byte(`{}`))
	if err == nil {
		t.Fatal("Execute() error = nil")
	}
	if !domain.IsTransient(err) {
		t.Errorf("connection error classified permanent: %v", err)
	}
}

func TestProvider_Execute_ContextTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	p := NewProvider(domain.TypeConversion, srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.Execute(ctx, []byte(`{}`))
	if err == nil {
		t.Fatal("Execute() error = nil")
	}
	if !domain.IsTransient(err) {
		t.Errorf("timeout classified permanent: %v", err)
	}
}
