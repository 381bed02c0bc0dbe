package gcs

import (
	"strings"
	"testing"
	"time"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri     string
		bucket  string
		object  string
		wantErr bool
	}{
		{"gs://ledger-imports/statements/jul.pdf", "ledger-imports", "statements/jul.pdf", false},
		{"gs://b/x", "b", "x", false},
		{"s3://b/x", "", "", true},
		{"gs://bucket-only", "", "", true},
		{"gs://bucket/", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, object, err := ParseURI(tt.uri)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseURI(%q) error = %v, wantErr %v", tt.uri, err, tt.wantErr)
			}
			if bucket != tt.bucket || object != tt.object {
				t.Errorf("ParseURI(%q) = %q, %q", tt.uri, bucket, object)
			}
		})
	}
}

func TestFilename(t *testing.T) {
	if got := Filename("gs://bucket/folder/file.pdf"); got != "file.pdf" {
		t.Errorf("Filename() = %q", got)
	}
	if got := Filename("gs://bucket"); got != "bucket" {
		t.Errorf("Filename() without object = %q", got)
	}
}

func TestObjectName(t *testing.T) {
	now := time.Date(2025, 7, 10, 23, 30, 0, 0, time.FixedZone("BRT", -3*3600))
	got := ObjectName("statement_pdf", "/tmp/extrato julho.pdf", now)
	if !strings.HasPrefix(got, "imports/statement_pdf/2025/07/11/") || !strings.HasSuffix(got, "-extrato julho.pdf") {
		t.Errorf("ObjectName() = %q", got)
	}
	if ObjectName("x", "a.csv", now) == ObjectName("x", "a.csv", now) {
		t.Error("ObjectName() is not unique per upload")
	}
}
