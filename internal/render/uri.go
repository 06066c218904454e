package render

import (
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/v2/x/mongo/driver/connstring"
)

var credentialsRe = regexp.MustCompile(`^.*@`)

// RedactURI shows where a connection string points without its
// credentials, options or the default port.
func RedactURI(uri string) string {
	cs, err := connstring.Parse(uri)
	if err != nil {
		return strings.ReplaceAll(credentialsRe.ReplaceAllString(uri, ""), ":27017", "")
	}
	hosts := make([]string, 0, len(cs.Hosts))
	for _, h := range cs.Hosts {
		hosts = append(hosts, strings.TrimSuffix(h, ":27017"))
	}
	out := strings.Join(hosts, ",")
	if cs.Database != "" {
		out += "/" + cs.Database
	}
	return out
}
