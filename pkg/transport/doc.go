// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package transport posts AS4 messages over HTTP(S).

HTTPSClient restricts TLS to versions 1.2 and 1.3. With TLS 1.2 it offers
RecommendedTLS12CipherSuites only. A client certificate and a root pool can
be set in HTTPSConfig:

	client := transport.NewHTTPSClient(&transport.HTTPSConfig{
	    MinTLSVersion: transport.TLS12,
	    Certificates:  []tls.Certificate{clientCert},
	    RootCAs:       pool,
	})
	resp, err := client.Post(ctx, endpoint, body, contentType,
	    transport.RetryPolicy{MaxRetries: 2, Interval: 12 * time.Second})

Post makes at most MaxRetries+1 attempts at a constant interval, driven by
github.com/cenkalti/backoff/v4. Network errors and 5xx answers are retried.
Any other status below 200 or from 300 up is returned as a *StatusError
without retrying. Response.Attempts counts the requests made. A cancelled
context ends the loop.

NewHTTPSClientWith wraps an existing *http.Client, which is how tests point
the client at an httptest server.
*/
package transport
