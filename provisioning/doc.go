// Package provisioning keeps TAK server accounts in step with the
// enrollment authority's user lifecycle.
//
// Every enrolled device gets a service-local keypair under
// {persistent}/users/{uuid}/ whose CSR is signed by the authority. Both that
// certificate and the authority-issued device certificate are written to the
// TAK certs folder as {callsign}.pem and {callsign}_rm.pem, and the TAK
// server's own shell scripts register them:
//
//	USER_CERT_NAME={name}  enable_user.sh
//	ADMIN_CERT_NAME={name} enable_admin.sh
//	USER_CERT_NAME={name}  delete_user.sh
//
// Script runs are bounded by a timeout and detached from request
// cancellation; callers still wait for their result.
//
// Products (other integrations granted interop rights) only get the
// {callsign}_rm.pem certificate, with the callsign derived from the
// product's certificate CN.
package provisioning
