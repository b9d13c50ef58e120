package api

import (
	"github.com/pvarki/takrmapi/datapackage"
	"github.com/pvarki/takrmapi/interfaces"
)

// UserCRUDRequest is the body the enrollment authority sends for every user
// lifecycle event and package download.
type UserCRUDRequest = interfaces.User

// OperationResult is the generic success/failure response body.
type OperationResult = interfaces.OperationResult

// ErrorDetail is the error body returned for every non-2xx response.
type ErrorDetail struct {
	Detail string `json:"detail"`
}

// EphemeralURLResponse carries a one-time download link.
type EphemeralURLResponse struct {
	EphemeralURL string `json:"ephemeral_url"`
}

// TakZipFile is one mission package embedded as a data URL.
type TakZipFile struct {
	// Title is the zip file name as assembled.
	Title string `json:"title"`
	// Filename is the suggested download name, prefixed with the callsign.
	Filename string `json:"filename"`
	// Data is "data:application/zip;base64,...".
	Data string `json:"data"`
}

type ClientInstructionData struct {
	TakZips []TakZipFile `json:"tak_zips"`
}

// ClientInstructionResponse is returned by the client data endpoint.
type ClientInstructionResponse struct {
	Data ClientInstructionData `json:"data"`
}

// ProductAddRequest asks for interop access for another product.
type ProductAddRequest struct {
	// CertCN is the CN of the product certificate.
	CertCN string `json:"certcn"`
	// X509Cert is the certificate with newlines escaped (CFSSL convention).
	X509Cert string `json:"x509cert"`
}

// ProductAuthzResponse tells a product how to authenticate. TAK always uses mTLS.
type ProductAuthzResponse struct {
	Type     string  `json:"type"`
	Token    *string `json:"token"`
	Username *string `json:"username"`
	Password *string `json:"password"`
}

// ProductDescription is the v1 product description.
type ProductDescription struct {
	Shortname   string  `json:"shortname"`
	Title       string  `json:"title"`
	Icon        *string `json:"icon"`
	Description string  `json:"description"`
	Language    string  `json:"language"`
}

type ProductComponent struct {
	Type string `json:"type"`
	Ref  string `json:"ref"`
}

// ProductDescriptionExtended adds documentation and UI component references.
type ProductDescriptionExtended struct {
	ProductDescription
	Docs      string           `json:"docs"`
	Component ProductComponent `json:"component"`
}

// HealthCheckResponse reports whether the service has anything to deliver.
type HealthCheckResponse struct {
	Healthy bool    `json:"healthy"`
	Extra   *string `json:"extra"`
}

// PackageListing is the admin view of the template trees.
type PackageListing struct {
	Packages []datapackage.PackageInfo `json:"packages"`
}

// OverlaySyncResponse reports a template overlay refresh.
type OverlaySyncResponse struct {
	Store string `json:"store"`
	Files int    `json:"files"`
}
