package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("mint log not found")
	err := Wrap(CodeRollback, "operation failed; funds were returned to the vault", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be reachable via errors.Is")
	}
	if err.Error() != "operation failed; funds were returned to the vault: mint log not found" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}

func TestAsThroughWrapping(t *testing.T) {
	inner := New(CodeAmbiguousResult, "mint log not found")
	outer := fmt.Errorf("attempt 3: %w", inner)
	typed, ok := As(outer)
	if !ok || typed.Code != CodeAmbiguousResult {
		t.Fatalf("expected typed error through fmt wrapping, got %v", outer)
	}
}

func TestCodeOfUntypedError(t *testing.T) {
	if CodeOf(errors.New("boom")) != CodeInternal {
		t.Fatal("untyped errors must classify as internal")
	}
	if CodeOf(nil) != CodeSuccess {
		t.Fatal("nil must classify as success")
	}
}

func TestIsCriticalDistinguishesRollback(t *testing.T) {
	rolled := New(CodeRollback, "funds returned")
	critical := New(CodeCritical, "funds stranded")
	if IsCritical(rolled) {
		t.Fatal("a clean rollback must not be critical")
	}
	if !IsCritical(critical) {
		t.Fatal("stranded funds must be critical")
	}
	if TypeName(CodeRollback) == TypeName(CodeCritical) {
		t.Fatal("rollback and critical must render as distinct types")
	}
}

func TestExitCodes(t *testing.T) {
	cases := map[Code]int{
		CodeSuccess:       0,
		CodeInternal:      1,
		CodeUsage:         2,
		CodeNotAuthorized: 21,
		CodeVaultBusy:     28,
		CodeCritical:      31,
	}
	for code, want := range cases {
		if got := ExitCode(New(code, "x")); got != want {
			t.Fatalf("code %d: expected exit %d, got %d", code, want, got)
		}
	}
}
