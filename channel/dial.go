package channel

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// buildDialOptions turns a TLSPolicy/AuthPolicy pair into the dial options
// shared by every channel in the cache, the way RpcClientConf.clientTransportCredentials
// assembled transport credentials from a single TransportType, generalized
// here to a richer, per-service policy plus an optional per-call token.
func buildDialOptions(tlsPolicy TLSPolicy, auth AuthPolicy, lb Policy) ([]grpc.DialOption, error) {
	opts := []grpc.DialOption{
		grpc.WithDefaultServiceConfig(lb.serviceConfigJSON()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(defaultMaxMessageSize),
			grpc.MaxCallSendMsgSize(defaultMaxMessageSize),
		),
	}

	creds, err := buildTransportCredentials(tlsPolicy)
	if err != nil {
		return nil, err
	}
	opts = append(opts, grpc.WithTransportCredentials(creds))

	if auth.Enabled {
		opts = append(opts, grpc.WithPerRPCCredentials(&tokenCredentials{
			headerName:   auth.HeaderName,
			schemePrefix: auth.SchemePrefix,
			requireTLS:   tlsPolicy.Enabled,
		}))
	}

	return opts, nil
}

func buildTransportCredentials(policy TLSPolicy) (credentials.TransportCredentials, error) {
	if !policy.Enabled {
		return insecure.NewCredentials(), nil
	}

	cfg := &tls.Config{ServerName: policy.ServerName}
	if policy.TrustAll || !policy.VerifyHostname {
		cfg.InsecureSkipVerify = true
	}

	if !policy.TrustAll && len(policy.TrustCertFiles) > 0 {
		pool := x509.NewCertPool()
		for _, f := range policy.TrustCertFiles {
			pem, err := os.ReadFile(f)
			if err != nil {
				return nil, fmt.Errorf("read trust cert %s: %w", f, err)
			}
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("append trust cert %s: no valid certificates found", f)
			}
		}
		cfg.RootCAs = pool
	}

	if policy.CertFile != "" && policy.KeyFile != "" {
		pair, err := tls.LoadX509KeyPair(policy.CertFile, policy.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client keypair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{pair}
	}

	return credentials.NewTLS(cfg), nil
}

// tokenCredentials implements credentials.PerRPCCredentials, pulling the
// bearer token from the ambient call context instead of a value fixed once
// at dial time.
type tokenCredentials struct {
	headerName   string
	schemePrefix string
	requireTLS   bool
}

func (t *tokenCredentials) GetRequestMetadata(ctx context.Context, _ ...string) (map[string]string, error) {
	token, ok := TokenFromContext(ctx)
	if !ok || token == "" {
		return map[string]string{}, nil
	}

	header := t.headerName
	if header == "" {
		header = "authorization"
	}

	value := token
	if t.schemePrefix != "" {
		value = t.schemePrefix + " " + token
	}

	return map[string]string{header: value}, nil
}

func (t *tokenCredentials) RequireTransportSecurity() bool { return t.requireTLS }
