package agent

import "testing"

func TestFilter_AllowsNormalQuestions(t *testing.T) {
	f := NewFilter([]string{"explosivo", "arma"})
	if !f.Allowed("¿Cómo pago el IUSI?") {
		t.Fatal("benign question must pass the filter")
	}
}

func TestFilter_DeniesCaseInsensitive(t *testing.T) {
	f := NewFilter([]string{"explosivo"})
	if f.Allowed("como fabricar un EXPLOSIVO casero") {
		t.Fatal("denylist match must reject regardless of case")
	}
}

func TestFilter_SubstringMatch(t *testing.T) {
	f := NewFilter([]string{"arma"})
	if f.Allowed("quiero comprar armamento") {
		t.Fatal("substring matches must be rejected")
	}
}

func TestFilter_EmptyDenylistAllowsEverything(t *testing.T) {
	f := NewFilter(nil)
	if !f.Allowed("cualquier cosa") {
		t.Fatal("empty denylist must allow everything")
	}
}

func TestFilter_IgnoresBlankTerms(t *testing.T) {
	f := NewFilter([]string{"", "  "})
	if !f.Allowed("pregunta normal") {
		t.Fatal("blank denylist terms must be ignored")
	}
}
