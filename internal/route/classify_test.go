package route

import "testing"

func TestClassifyRubyGems(t *testing.T) {
	cases := []struct {
		path string
		want Match
	}{
		{"/gems/rails-8.0.1.gem", Match{Kind: RubyGemsGem, Name: "rails", Version: "8.0.1"}},
		{"/gems/nokogiri-1.16.0-x86_64-linux.gem", Match{Kind: RubyGemsGem, Name: "nokogiri", Version: "1.16.0", Platform: "x86_64-linux"}},
		{"/versions", Match{Kind: RubyGemsVersions}},
		{"/info/rails", Match{Kind: RubyGemsInfo, Name: "rails"}},
		{"/quick/Marshal.4.8/rails-8.0.1.gemspec.rz", Match{Kind: RubyGemsQuickSpec, Name: "rails", Version: "8.0.1"}},
		{"/specs.4.8.gz", Match{Kind: RubyGemsLegacy}},
		{"/latest_specs.4.8.gz", Match{Kind: RubyGemsLegacy}},
		{"/api/v1/dependencies?gems=rails", Match{Kind: RubyGemsLegacy}},
	}
	for _, c := range cases {
		got := Classify(c.path)
		if got != c.want {
			t.Errorf("Classify(%q) = %+v, want %+v", c.path, got, c.want)
		}
	}
}

func TestClassifyCrates(t *testing.T) {
	cases := []struct {
		path string
		want Match
	}{
		{"/crates-index/se/rd/serde", Match{Kind: CratesIndex, Name: "serde"}},
		{"/crates-index/se/rd/Serde", Match{Kind: CratesIndex, Name: "serde"}},
		{"/api/v1/crates/serde/1.0.200/download", Match{Kind: CratesDownload, Name: "serde", Version: "1.0.200"}},
	}
	for _, c := range cases {
		got := Classify(c.path)
		if got != c.want {
			t.Errorf("Classify(%q) = %+v, want %+v", c.path, got, c.want)
		}
	}
}

func TestClassifyNpm(t *testing.T) {
	cases := []struct {
		path string
		want Match
	}{
		{"/npm/express", Match{Kind: NpmMetadata, Name: "express"}},
		{"/npm/@scope/pkg", Match{Kind: NpmMetadata, Name: "@scope/pkg"}},
		{"/npm/express/-/express-4.18.2.tgz", Match{Kind: NpmTarball, Name: "express", Version: "4.18.2"}},
		{"/npm/@scope/pkg/-/pkg-1.0.0.tgz", Match{Kind: NpmTarball, Name: "@scope/pkg", Version: "1.0.0"}},
	}
	for _, c := range cases {
		got := Classify(c.path)
		if got != c.want {
			t.Errorf("Classify(%q) = %+v, want %+v", c.path, got, c.want)
		}
	}
}

func TestClassifyMiscAndNotRouted(t *testing.T) {
	if got := Classify("/up"); got.Kind != Health {
		t.Errorf("expected Health, got %v", got.Kind)
	}
	if got := Classify("/.well-known/vein/sbom"); got.Kind != Sbom {
		t.Errorf("expected Sbom, got %v", got.Kind)
	}
	if got := Classify("/nonsense/path"); got.Kind != NotRouted {
		t.Errorf("expected NotRouted, got %v", got.Kind)
	}
	if got := Classify("/gems/rails.gem"); got.Kind != NotRouted {
		t.Errorf("expected NotRouted for gem file without version, got %v", got.Kind)
	}
}

func TestClassifyIsCaseSensitiveForRubyGemsAndNpm(t *testing.T) {
	got := Classify("/info/Rails")
	if got.Kind != RubyGemsInfo || got.Name != "Rails" {
		t.Errorf("expected case-preserved rubygems name, got %+v", got)
	}
	got = Classify("/npm/Express")
	if got.Kind != NpmMetadata || got.Name != "Express" {
		t.Errorf("expected case-preserved npm name, got %+v", got)
	}
}
