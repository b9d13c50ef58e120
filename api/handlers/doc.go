/*
Package handlers implements the HTTP endpoints of the TAK integration service.

# Handler Types

  - PackageHandler: mission package zips, data packages, client data and
    ephemeral download links
  - UserHandler: user lifecycle events from the enrollment authority
  - InteropHandler: admin access for other products
  - InfoHandler: product descriptions and health check
  - AdminHandler: template listing and overlay refresh

Each handler registers its own routes through RegisterRoutes and wraps
authenticated routes in RequireClientDN.

# Errors

Error responses carry a JSON body of the form {"detail": "..."}. Missing
packages and variants answer 404, assembly failures 500. Redeeming an
ephemeral link answers the same 404 body whatever went wrong, so a caller
cannot tell an expired token from a forged one.

User lifecycle and interop operations report TAK side failures in an
operation result body ({"success": false, "error": "..."}) with status 200.
*/
package handlers
