package upstream

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
)

// PublishedDigest extracts an upstream digest from a response header, per
// §4.3 step 4. It reads only the X-Vein-Expected-Sha256 header, which no
// code in Vein sets, and nothing in Vein calls this function: the fetcher
// gets crates.io `cksum` and npm `dist.shasum` digests from the cached
// index/metadata bodies via ParseCratesChecksum and ParseNPMShasum, through
// resolver.DigestLookup.
func PublishedDigest(resp *http.Response) (kind, value string) {
	if v := resp.Header.Get("X-Vein-Expected-Sha256"); v != "" {
		return "sha256", v
	}
	return "", ""
}

// SHA256Hex is a small convenience used by the fetcher and by tests to
// compare a freshly computed digest against a stored or published one.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// cratesIndexEntry is the subset of a crates.io sparse-index NDJSON line
// (one object per published version) §4.3 step 4 needs to verify a
// download against its publisher-recorded sha256.
type cratesIndexEntry struct {
	Vers  string `json:"vers"`
	Cksum string `json:"cksum"`
}

// ParseCratesChecksum scans a crates.io sparse-index body (one JSON object
// per line) for version and returns its published cksum, which is the
// sha256 of the .crate file.
func ParseCratesChecksum(body []byte, version string) (cksum string, ok bool) {
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry cratesIndexEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		if entry.Vers == version {
			return entry.Cksum, entry.Cksum != ""
		}
	}
	return "", false
}

// npmDist is the subset of an npm registry metadata document's
// `versions[<version>].dist` object §4.3 step 4 needs.
type npmDist struct {
	Shasum string `json:"shasum"`
}

type npmVersionEntry struct {
	Dist npmDist `json:"dist"`
}

type npmMetadataDoc struct {
	Versions map[string]npmVersionEntry `json:"versions"`
}

// ParseNPMShasum scans an npm registry metadata document for version's
// dist.shasum, npm's historical sha1 of the tarball.
func ParseNPMShasum(body []byte, version string) (shasum string, ok bool) {
	var doc npmMetadataDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", false
	}
	entry, found := doc.Versions[version]
	if !found || entry.Dist.Shasum == "" {
		return "", false
	}
	return entry.Dist.Shasum, true
}
