package main

import (
	"strings"
	"testing"
)

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable([]string{"Array", "Shape"}, [][]string{{"votes", "(3, 10)"}, {"iqrs"}}, []columnAlignment{alignLeft, alignRight})
	for _, want := range []string{"Array", "votes", "(3, 10)", "iqrs"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in table:\n%s", want, out)
		}
	}
	if strings.Contains(out, "ARRAY") {
		t.Fatalf("headers should keep their case:\n%s", out)
	}
	if renderTable(nil, nil, nil) != "" {
		t.Fatal("expected empty output without headers")
	}
}

func TestFormatShape(t *testing.T) {
	cases := map[string][]int{
		"(10,)":   {10},
		"(3, 10)": {3, 10},
		"()":      {},
	}
	for want, shape := range cases {
		if got := formatShape(shape); got != want {
			t.Fatalf("unexpected shape text: got %q want %q", got, want)
		}
	}
}

func TestRenderStatusLineWithoutColor(t *testing.T) {
	line := renderStatusLine("Ensemble", statusError, "missing manifest", false)
	if !strings.Contains(line, "[ERROR] missing manifest") || strings.Contains(line, "\x1b[") {
		t.Fatalf("unexpected status line %q", line)
	}
}
