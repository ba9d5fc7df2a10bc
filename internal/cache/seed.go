package cache

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// WellKnownStatusCodes is the compiled-in seed for the status code
// table. Id 0 is the reserved "not applicable" entry.
func WellKnownStatusCodes() map[int]string {
	return map[int]string{
		0:   "n/a",
		100: "100", 101: "101", 102: "102", 103: "103",
		200: "200", 201: "201", 202: "202", 203: "203", 204: "204",
		205: "205", 206: "206", 207: "207", 208: "208", 226: "226",
		300: "300", 301: "301", 302: "302", 303: "303", 304: "304",
		305: "305", 307: "307", 308: "308",
		400: "400", 401: "401", 402: "402", 403: "403", 404: "404",
		405: "405", 406: "406", 407: "407", 408: "408", 409: "409",
		410: "410", 411: "411", 412: "412", 413: "413", 414: "414",
		415: "415", 416: "416", 417: "417", 418: "418", 421: "421",
		422: "422", 423: "423", 424: "424", 425: "425", 426: "426",
		428: "428", 429: "429", 431: "431", 451: "451",
		500: "500", 501: "501", 502: "502", 503: "503", 504: "504",
		505: "505", 506: "506", 507: "507", 508: "508", 510: "510",
		511: "511",
	}
}

// statusSeedFile is the yaml shape of an optional seed override file:
//
//	codes:
//	  299: "299"
//	  599: "599"
type statusSeedFile struct {
	Codes map[int]string `yaml:"codes"`
}

// LoadStatusSeed returns the compiled-in seed merged with the optional
// override file at path (empty path means compiled-in only).
func LoadStatusSeed(path string) (map[int]string, error) {
	seed := WellKnownStatusCodes()
	if path == "" {
		return seed, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read status seed file: %w", err)
	}

	var file statusSeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse status seed file: %w", err)
	}

	for id, label := range file.Codes {
		seed[id] = label
	}
	return seed, nil
}
