// Package takinit prepares a fresh TAK server for use by this service: it
// installs the service's own admin certificate, creates the deployment mesh
// key, the RECON mission and the Default-ATAK device profile, and uploads
// the default profile files and bundles.
//
// Every step checks the current state first, so Run can be repeated on
// each start. A file lock keeps concurrent replicas from interleaving.
package takinit
