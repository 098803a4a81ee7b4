// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

package repo

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/saplcore/pdp/eval"
)

const bareDocument = `{
	"type": "policy",
	"name": "p",
	"entitlement": "permit"
}`

func TestLoadDecodesDocuments(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "p.json"), []byte(bareDocument), 0o644); err != nil {
		t.Fatal(err)
	}
	r := New(dir, nil)
	if err := r.Load(); err != nil {
		t.Fatal(err)
	}
	docs, err := r.Candidates(context.Background(), eval.Subscription{})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	if docs[0].DocumentName() != "p" {
		t.Fatalf("expected document named p, got %q", docs[0].DocumentName())
	}
}

func TestLoadIgnoresNonJSONFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "p.json"), []byte(bareDocument), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("not a document"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := New(dir, nil)
	if err := r.Load(); err != nil {
		t.Fatal(err)
	}
	docs, _ := r.Candidates(context.Background(), eval.Subscription{})
	if len(docs) != 1 {
		t.Fatalf("expected only the JSON document to load, got %d", len(docs))
	}
}

func TestLoadFailsOnMalformedDocument(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte(`{`), 0o644); err != nil {
		t.Fatal(err)
	}
	r := New(dir, nil)
	if err := r.Load(); err == nil {
		t.Fatal("expected an error decoding a malformed document")
	}
}
