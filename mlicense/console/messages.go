// Package console splits license issuance into a privileged Backend, which
// reads key files, signs and writes artifacts, and a Session front end that
// can only dispatch the three named operations below.
package console

import (
	"github.com/CloudNativeWorks/cnw-machine-license/mlicense"
)

// Op names an operation on the capability boundary.
type Op string

const (
	OpPickPrivateKey Op = "pick-private-key"
	OpSignLicense    Op = "sign-license"
	OpSaveArtifact   Op = "save-artifact"
)

// Request is one of PickPrivateKeyRequest, SignLicenseRequest or
// SaveArtifactRequest. The set is closed.
type Request interface {
	Op() Op
	isRequest()
}

// Response is the reply to a Request.
type Response interface {
	isResponse()
}

// PickPrivateKeyRequest asks the host to let the operator choose a
// private key file.
type PickPrivateKeyRequest struct{}

// Op implements Request.

func (PickPrivateKeyRequest) Op() Op     { return OpPickPrivateKey }
func (PickPrivateKeyRequest) isRequest() {}

// SignLicenseRequest signs Claims with the key at KeyPath.
type SignLicenseRequest struct {
	Claims  mlicense.Claims `json:"claims"`
	KeyPath string          `json:"keyPath"`
}

// Op implements Request.
func (SignLicenseRequest) Op() Op     { return OpSignLicense }
func (SignLicenseRequest) isRequest() {}

// SaveArtifactRequest asks the host to store Content, offering DefaultName
// as the file name.
type SaveArtifactRequest struct {
	DefaultName string `json:"defaultName"`
	Content     string `json:"content"`
}

// Op implements Request.
func (SaveArtifactRequest) Op() Op     { return OpSaveArtifact }
func (SaveArtifactRequest) isRequest() {}

// PickPrivateKeyResponse carries the chosen path, or Cancelled when the
// operator dismissed the picker. Error is set only for host failures.
type PickPrivateKeyResponse struct {
	Path      string `json:"path,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
}

func (PickPrivateKeyResponse) isResponse() {}

type SignLicenseResponse struct {
	OK           bool   `json:"ok"`
	SignatureHex string `json:"signatureHex,omitempty"`
	Error        string `json:"error,omitempty"`
	Code         string `json:"code,omitempty"`
}

func (SignLicenseResponse) isResponse() {}

// SaveArtifactResponse reports where the artifact was written. A cancelled
// save is neither OK nor an error.
type SaveArtifactResponse struct {
	OK        bool   `json:"ok"`
	Path      string `json:"path,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
}

func (SaveArtifactResponse) isResponse() {}

// failure builds the error response matching req.
func failure(req Request, err error) Response {
	code := mlicense.Code(err)
	switch req.(type) {
	case PickPrivateKeyRequest:
		return PickPrivateKeyResponse{Error: err.Error(), Code: code}
	case SaveArtifactRequest:
		return SaveArtifactResponse{Error: err.Error(), Code: code}
	default:
		return SignLicenseResponse{Error: err.Error(), Code: code}
	}
}

// remoteError rebuilds an error reported in a response so callers can keep
// using errors.Is against the mlicense sentinels.
type remoteError struct {
	msg      string
	sentinel error
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.sentinel }

func responseError(msg, code string) error {
	return &remoteError{msg: msg, sentinel: mlicense.Sentinel(code)}
}
