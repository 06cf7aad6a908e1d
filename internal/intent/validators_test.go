package intent

import "testing"

func TestValidateBirthdate(t *testing.T) {
	accepted := []string{"30/01/1990", "01/12/2000", "99/99/9999"}
	rejected := []string{"1990-01-30", "30-01-1990", "3/1/1990", "30/01/90", "30/01/1990 ", "abc"}

	for _, in := range accepted {
		if _, problem := validateBirthdate(in); problem != "" {
			t.Errorf("expected %q to be accepted, got %q", in, problem)
		}
	}
	for _, in := range rejected {
		if _, problem := validateBirthdate(in); problem == "" {
			t.Errorf("expected %q to be rejected", in)
		}
	}
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		problem string
	}{
		{"title cased", "rua das flores 900", "Rua Das Flores 900", ""},
		{"avenue", "Avenida Paulista 1578", "Avenida Paulista 1578", ""},
		{"missing number", "avenida brasil", "", msgMissingHouseNumber},
		{"wrong prefix", "Caminho X 12", "", msgWrongStreetType},
		{"text after number", "Rua A 12 fundos", "", "\"Rua A 12 fundos\" não é um endereço válido. Por favor, insira um endereço válido."},
		// A digit inside the street name is not a house number; such addresses
		// are rejected with the generic message.
		{"digit in street name", "Rua 2 de Julho", "", "\"Rua 2 de Julho\" não é um endereço válido. Por favor, insira um endereço válido."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, problem := validateAddress(tt.input)
			if problem != tt.problem {
				t.Fatalf("expected problem %q, got %q", tt.problem, problem)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestValidateName(t *testing.T) {
	for _, in := range []string{"João", "Ana Maria", "Zoë O'Neil", "José da Silva-Souza"} {
		if _, problem := validateName(in); problem != "" {
			t.Errorf("expected %q to be accepted, got %q", in, problem)
		}
	}
	for _, in := range []string{"", "123", "@joao", "João2"} {
		_, problem := validateName(in)
		if problem == "" {
			t.Errorf("expected %q to be rejected", in)
		}
	}
	if _, problem := validateName("123"); problem != "\"123\" não é um nome válido. Por favor, insira um nome válido." {
		t.Errorf("unexpected name message %q", problem)
	}
}

func TestValidateEmail(t *testing.T) {
	for _, in := range []string{"joao@example.com", "a.b+c@mail.com.br"} {
		if _, problem := validateEmail(in); problem != "" {
			t.Errorf("expected %q to be accepted, got %q", in, problem)
		}
	}
	for _, in := range []string{"joao", "joao@", "joao@example", "joao example@x.com"} {
		if _, problem := validateEmail(in); problem == "" {
			t.Errorf("expected %q to be rejected", in)
		}
	}
}

func TestTitleCaseAddress(t *testing.T) {
	if got := TitleCaseAddress("  travessa   são joão 12b "); got != "Travessa São João 12b" {
		t.Errorf("unexpected %q", got)
	}
}
