package permission

import (
	"net/url"
	"reflect"
	"testing"
)

func TestMatchesIsTotalAndNeverPanics(t *testing.T) {
	weird := []Capability{
		{},
		{Type: "bogus"},
		{Type: TypeHTTP, Host: "", PathPattern: "[", Methods: []string{"TRACE"}},
		{Type: TypeFile, Path: "", Operations: []string{"delete"}},
		{Type: TypeEnv, Variables: []string{"["}},
	}
	for _, required := range weird {
		for _, granted := range weird {
			_ = Matches(required, granted)
		}
	}
}

func TestHostMatchIsCaseSensitiveAndExact(t *testing.T) {
	granted := Capability{Type: TypeHTTP, Host: "example.com", Description: "x"}
	cases := []struct {
		host string
		want bool
	}{
		{"example.com", true},
		{"EXAMPLE.COM", false},
		{"api.example.com", false},
	}
	for _, c := range cases {
		required := Capability{Type: TypeHTTP, Host: c.host, Description: "x"}
		if got := Matches(required, granted); got != c.want {
			t.Errorf("host %q: got %v, want %v", c.host, got, c.want)
		}
	}
}

func TestAbsentGrantedPathPatternMeansAnyPath(t *testing.T) {
	granted := Capability{Type: TypeHTTP, Host: "example.com", Description: "x"}
	required := Capability{Type: TypeHTTP, Host: "example.com", PathPattern: "/anything/nested", Description: "x"}
	if !Matches(required, granted) {
		t.Fatal("expected absent granted pathPattern to allow any path")
	}
}

func TestGrantedStarPathMatchesAnyPath(t *testing.T) {
	granted := Capability{Type: TypeHTTP, Host: "example.com", PathPattern: "*", Description: "x"}
	required := Capability{Type: TypeHTTP, Host: "example.com", PathPattern: "/v1/anything", Description: "x"}
	if !Matches(required, granted) {
		t.Fatal("expected granted '*' path to match any path")
	}
}

func TestPathGlobCrossesSlashes(t *testing.T) {
	granted := Capability{Type: TypeHTTP, Host: "api.example.com", PathPattern: "/v1/*", Description: "x"}

	ok := Capability{Type: TypeHTTP, Host: "api.example.com", PathPattern: "/v1/anything/nested", Description: "x"}
	if !Matches(ok, granted) {
		t.Fatal("expected /v1/* to match /v1/anything/nested")
	}

	bad := Capability{Type: TypeHTTP, Host: "api.example.com", PathPattern: "/v2/x", Description: "x"}
	if Matches(bad, granted) {
		t.Fatal("expected /v1/* to not match /v2/x")
	}
}

func TestEmptyGrantedMethodsMeansAnyMethod(t *testing.T) {
	granted := Capability{Type: TypeHTTP, Host: "example.com", Description: "x"}
	required := Capability{Type: TypeHTTP, Host: "example.com", Methods: []string{MethodPost}, Description: "x"}
	if !Matches(required, granted) {
		t.Fatal("expected empty granted methods to allow any method")
	}
}

func TestMethodScoping(t *testing.T) {
	granted := Capability{Type: TypeHTTP, Host: "example.com", Methods: []string{MethodGet}, Description: "x"}
	post := Capability{Type: TypeHTTP, Host: "example.com", Methods: []string{MethodPost}, Description: "x"}
	if Matches(post, granted) {
		t.Fatal("expected GET-only grant to deny POST")
	}
	get := Capability{Type: TypeHTTP, Host: "example.com", Methods: []string{MethodGet}, Description: "x"}
	if !Matches(get, granted) {
		t.Fatal("expected GET-only grant to allow GET")
	}
}

func TestEnvWildcardMatch(t *testing.T) {
	granted := Capability{Type: TypeEnv, Variables: []string{"SECRET_*"}, Description: "x"}

	allMatch := Capability{Type: TypeEnv, Variables: []string{"SECRET_TOKEN", "SECRET_OTHER"}}
	if !Matches(allMatch, granted) {
		t.Fatal("expected SECRET_* to match SECRET_TOKEN and SECRET_OTHER")
	}

	oneMissing := Capability{Type: TypeEnv, Variables: []string{"SECRET_TOKEN", "PUBLIC"}}
	if Matches(oneMissing, granted) {
		t.Fatal("expected SECRET_* to not match PUBLIC")
	}
}

func TestEnvBareStarMatchesEverything(t *testing.T) {
	granted := Capability{Type: TypeEnv, Variables: []string{"*"}, Description: "x"}
	required := Capability{Type: TypeEnv, Variables: []string{"ANYTHING", "SECRET"}}
	if !Matches(required, granted) {
		t.Fatal("expected bare '*' to match every variable name")
	}
}

func TestEnvPrefixDoesNotMatchBareName(t *testing.T) {
	granted := Capability{Type: TypeEnv, Variables: []string{"SECRET_*"}, Description: "x"}
	required := Capability{Type: TypeEnv, Variables: []string{"SECRET"}}
	if Matches(required, granted) {
		t.Fatal("expected SECRET_* to not match bare SECRET")
	}
}

func TestGrantedPatternMetacharactersAreLiteralExceptStar(t *testing.T) {
	granted := Capability{Type: TypeFile, Path: "/tmp/file[1].txt", Operations: []string{OpRead}, Description: "x"}

	literal := Capability{Type: TypeFile, Path: "/tmp/file[1].txt", Operations: []string{OpRead}}
	if !Matches(literal, granted) {
		t.Fatal("expected granted path containing '[' to match the literal path byte-for-byte")
	}

	wouldMatchAsClass := Capability{Type: TypeFile, Path: "/tmp/file1.txt", Operations: []string{OpRead}}
	if Matches(wouldMatchAsClass, granted) {
		t.Fatal("expected '[1]' to be treated as literal text, not a character class matching '1'")
	}

	starGranted := Capability{Type: TypeEnv, Variables: []string{"WEIRD?NAME_*"}, Description: "x"}
	literalQuestionMark := Capability{Type: TypeEnv, Variables: []string{"WEIRD?NAME_X"}}
	if !Matches(literalQuestionMark, starGranted) {
		t.Fatal("expected granted '?' to match literally, with '*' still a wildcard")
	}
	anyCharForQuestionMark := Capability{Type: TypeEnv, Variables: []string{"WEIRDXNAME_X"}}
	if Matches(anyCharForQuestionMark, starGranted) {
		t.Fatal("expected '?' to not behave as a single-char wildcard")
	}
}

func TestSynthesizeHTTPDescriptor(t *testing.T) {
	u, err := url.Parse("https://example.com/")
	if err != nil {
		t.Fatal(err)
	}
	got := SynthesizeHTTPDescriptor("get", u)
	want := Capability{
		Type:        TypeHTTP,
		Host:        "example.com",
		PathPattern: "/",
		Methods:     []string{MethodGet},
		Description: "GET request to example.com/",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestSynthesizeHTTPDescriptorUnknownMethodFallsBackToGet(t *testing.T) {
	u, _ := url.Parse("https://example.com/x")
	got := SynthesizeHTTPDescriptor("TRACE", u)
	if got.Methods[0] != MethodGet {
		t.Fatalf("expected unknown method to normalize to GET, got %v", got.Methods)
	}
}
