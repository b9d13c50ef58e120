/*
Package clients provides HTTP clients for the upstream services the TAK
integration talks to.

# Client Types

1. AuthorityClient - the enrollment authority (Rasenmaeher) product API,
   used to sign device CSRs and revoke device certificates
2. TakClient - the TAK server management REST API on localhost

Both clients authenticate with the service's own mTLS client certificate
(see LoadClientCertificate) and use go-retryablehttp for transport.

# Result Normalization

TakClient never returns errors. Each call yields an interfaces.Result:
transport failures and undecodable bodies give Success=false with empty Data,
any decoded answer gives Success=true with the decoded JSON in Data and the
HTTP status in Status. Callers inspect the body, as the TAK server reports
many outcomes (for example a missing device profile) only in the payload.

# Example Usage

	cert, err := clients.LoadClientCertificate(settings.MTLSClientCert(), settings.MTLSClientKey())
	if err != nil {
	    return err
	}
	tak := clients.NewTakClient(settings.TakBaseURL(), cert, logger)
	if err := tak.WaitReady(ctx, 60, 5*time.Second); err != nil {
	    return err
	}
	users := tak.ListUsers(ctx)
*/
package clients
