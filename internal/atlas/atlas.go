// Package atlas looks up the connection string of an Atlas cluster.
package atlas

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/atlas-sdk/v20250312005/admin"
	"go.mongodb.org/mongo-driver/v2/x/mongo/driver/connstring"

	"mongo-query-top/internal/logging"
)

// Cluster identifies a cluster and the API key used to read it.
type Cluster struct {
	ProjectID   string
	ClusterName string
	PublicKey   string
	PrivateKey  string
}

// ErrNoConnectionString is returned for clusters that are not deployed yet.
var ErrNoConnectionString = errors.New("cluster has no connection string")

type Client struct {
	baseURL string
}

type Option func(*Client)

// WithBaseURL points the client at another Atlas API endpoint.
func WithBaseURL(u string) Option { return func(c *Client) { c.baseURL = u } }

func NewClient(opts ...Option) *Client {
	c := &Client{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ConnectionString returns the SRV connection string of the cluster, or the
// standard one when the cluster has no SRV record.
func (c *Client) ConnectionString(ctx context.Context, cl Cluster) (string, error) {
	sdkOpts := []admin.ClientModifier{admin.UseDigestAuth(cl.PublicKey, cl.PrivateKey)}
	if c.baseURL != "" {
		sdkOpts = append(sdkOpts, admin.UseBaseURL(c.baseURL))
	}
	sdk, err := admin.NewClient(sdkOpts...)
	if err != nil {
		return "", fmt.Errorf("failed to create Atlas client: %w", err)
	}

	cluster, _, err := sdk.ClustersApi.GetCluster(ctx, cl.ProjectID, cl.ClusterName).Execute()
	if err != nil {
		return "", fmt.Errorf("failed to get cluster %s: %w", cl.ClusterName, err)
	}

	cs := cluster.GetConnectionStrings()
	uri := cs.GetStandardSrv()
	if uri == "" {
		uri = cs.GetStandard()
	}
	if uri == "" {
		return "", fmt.Errorf("%s: %w", cl.ClusterName, ErrNoConnectionString)
	}
	logging.Logger.WithFields(logrus.Fields{"projectId": cl.ProjectID, "cluster": cl.ClusterName}).Debug("Resolved Atlas connection string")
	return uri, nil
}

// WithCredentials adds a user and password to uri, replacing any already
// present.
func WithCredentials(uri, username, password string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid connection string: %w", err)
	}
	if u.Scheme != connstring.SchemeMongoDB && u.Scheme != connstring.SchemeMongoDBSRV {
		return "", fmt.Errorf("invalid connection string scheme %q", u.Scheme)
	}
	if username == "" {
		return uri, nil
	}
	u.User = url.UserPassword(username, password)
	return u.String(), nil
}
