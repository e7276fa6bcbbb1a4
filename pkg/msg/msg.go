// Package msg implements the JSON wire codec shared by the local control
// socket and remote sessions: typed parsers for each inbound request and
// typed builders for each outbound response.
//
// Grounded on original_source/src/msg/msg_common.hpp's field-name
// dictionary and msg/json/msg_json.cpp's message shapes, reimplemented
// with encoding/json structs in place of the original's hand-built
// string concatenation.
package msg

import (
	"encoding/json"
	"fmt"

	"github.com/evernode/sashimono-agent/pkg/contract"
	"github.com/evernode/sashimono-agent/pkg/types"
)

// Request type discriminators.
const (
	TypeCreate   = "create"
	TypeInitiate = "initiate"
	TypeDestroy  = "destroy"
	TypeStart    = "start"
	TypeStop     = "stop"
	TypeList     = "list"
	TypeInspect  = "inspect"
)

// Response/unsolicited type discriminators.
const (
	TypeInit         = "init"
	TypeInitiateRes  = "initiate_res"
	TypeDestroyRes   = "destroy_res"
	TypeStartRes     = "start_res"
	TypeStopRes      = "stop_res"
	TypeListRes      = "list_res"
	TypeError        = "error"
	TypeCreateError  = "create_error"
	TypeInspectError = "inspect_error"
)

// envelope is used only to sniff the type discriminator before dispatching
// to a request-specific parser.
type envelope struct {
	Type string `json:"type"`
}

// ParseType extracts and validates the type discriminator from a raw
// message, without interpreting the rest of its fields.
func ParseType(data []byte) (string, error) {
	var e envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return "", fmt.Errorf("msg: invalid json: %w", err)
	}
	if e.Type == "" {
		return "", fmt.Errorf("msg: field 'type' is missing or empty")
	}
	return e.Type, nil
}

// CreateRequest is the parsed form of a create message.
type CreateRequest struct {
	Type        string `json:"type"`
	OwnerPubkey string `json:"owner_pubkey"`
	ContractID  string `json:"contract_id"`
	Image       string `json:"image"`
}

// ParseCreate parses and validates a create request.
func ParseCreate(data []byte) (CreateRequest, error) {
	var r CreateRequest
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("msg: invalid create message: %w", err)
	}
	if r.OwnerPubkey == "" {
		return r, fmt.Errorf("msg: field owner_pubkey is missing")
	}
	if r.ContractID == "" {
		return r, fmt.Errorf("msg: field contract_id is missing")
	}
	if r.Image == "" {
		return r, fmt.Errorf("msg: field image is missing")
	}
	return r, nil
}

// InitiateRequest is the parsed form of an initiate message. Config is the
// partial hp.cfg override patch applied before the instance starts.
type InitiateRequest struct {
	Type          string               `json:"type"`
	ContainerName string               `json:"container_name"`
	Config        contract.ConfigPatch `json:"config"`
}

// ParseInitiate parses and validates an initiate request.
func ParseInitiate(data []byte) (InitiateRequest, error) {
	var r InitiateRequest
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("msg: invalid initiate message: %w", err)
	}
	if r.ContainerName == "" {
		return r, fmt.Errorf("msg: field container_name is missing")
	}
	return r, nil
}

// ContainerNameRequest is the shared shape for destroy, start, stop and
// inspect messages, which all carry only a type and a container_name.
type ContainerNameRequest struct {
	Type          string `json:"type"`
	ContainerName string `json:"container_name"`
}

func parseContainerNameRequest(data []byte, kind string) (ContainerNameRequest, error) {
	var r ContainerNameRequest
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("msg: invalid %s message: %w", kind, err)
	}
	if r.ContainerName == "" {
		return r, fmt.Errorf("msg: field container_name is missing")
	}
	return r, nil
}

// ParseDestroy parses and validates a destroy request.
func ParseDestroy(data []byte) (ContainerNameRequest, error) {
	return parseContainerNameRequest(data, "destroy")
}

// ParseStart parses and validates a start request.
func ParseStart(data []byte) (ContainerNameRequest, error) {
	return parseContainerNameRequest(data, "start")
}

// ParseStop parses and validates a stop request.
func ParseStop(data []byte) (ContainerNameRequest, error) {
	return parseContainerNameRequest(data, "stop")
}

// ParseInspect parses and validates an inspect request.
func ParseInspect(data []byte) (ContainerNameRequest, error) {
	return parseContainerNameRequest(data, "inspect")
}

// ListRequest is the parsed form of a list message; it carries no fields
// besides the type discriminator.
type ListRequest struct {
	Type string `json:"type"`
}

// ParseList parses a list request.
func ParseList(data []byte) (ListRequest, error) {
	var r ListRequest
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("msg: invalid list message: %w", err)
	}
	return r, nil
}

// CreateResponse is the flat response body for a successful create,
// carrying no type wrapper of its own — the caller correlates it to its
// request over the one-shot request/response exchange.
type CreateResponse struct {
	Name       string `json:"name"`
	IP         string `json:"ip"`
	Pubkey     string `json:"pubkey"`
	ContractID string `json:"contract_id"`
	PeerPort   uint16 `json:"peer_port"`
	UserPort   uint16 `json:"user_port"`
}

// BuildCreateResponse renders a create response from the resulting
// instance record.
func BuildCreateResponse(rec types.Instance) ([]byte, error) {
	return json.Marshal(CreateResponse{
		Name:       rec.ContainerName,
		IP:         rec.IP,
		Pubkey:     rec.Pubkey,
		ContractID: rec.ContractID,
		PeerPort:   rec.PeerPort,
		UserPort:   rec.UserPort,
	})
}

// InspectResponse is the flat response body for a successful inspect.
type InspectResponse struct {
	Name     string `json:"name"`
	User     string `json:"user"`
	Image    string `json:"image"`
	Status   string `json:"status"`
	PeerPort uint16 `json:"peer_port"`
	UserPort uint16 `json:"user_port"`
}

// BuildInspectResponse renders an inspect response from an instance record.
func BuildInspectResponse(rec types.Instance) ([]byte, error) {
	return json.Marshal(InspectResponse{
		Name:     rec.ContainerName,
		User:     rec.Username,
		Image:    rec.Image,
		Status:   string(rec.Status),
		PeerPort: rec.PeerPort,
		UserPort: rec.UserPort,
	})
}

// InstanceSummary is one entry of a list_res content array. The lease
// fields are omitted entirely when no matching lease exists.
type InstanceSummary struct {
	Name             string `json:"name"`
	User             string `json:"user"`
	Image            string `json:"image"`
	ContractID       string `json:"contract_id"`
	Status           string `json:"status"`
	PeerPort         uint16 `json:"peer_port"`
	UserPort         uint16 `json:"user_port"`
	CreatedTimestamp *int64  `json:"created_timestamp,omitempty"`
	CreatedLedger    *int64  `json:"created_ledger,omitempty"`
	ExpiryTimestamp  *int64  `json:"expiry_timestamp,omitempty"`
	Tenant           *string `json:"tenant,omitempty"`
}

// listResponse is the envelope around the content array for list_res.
type listResponse struct {
	Type    string            `json:"type"`
	Content []InstanceSummary `json:"content"`
}

// BuildListResponse renders a list_res for the given instances, joining in
// lease metadata for any instance with a matching lease record.
func BuildListResponse(recs []types.Instance, leases []types.Lease) ([]byte, error) {
	leaseByName := make(map[string]types.Lease, len(leases))
	for _, l := range leases {
		leaseByName[l.ContainerName] = l
	}

	content := make([]InstanceSummary, 0, len(recs))
	for _, rec := range recs {
		s := InstanceSummary{
			Name:       rec.ContainerName,
			User:       rec.Username,
			Image:      rec.Image,
			ContractID: rec.ContractID,
			Status:     string(rec.Status),
			PeerPort:   rec.PeerPort,
			UserPort:   rec.UserPort,
		}
		if l, ok := leaseByName[rec.ContainerName]; ok {
			created := l.Timestamp
			ledger := l.CreatedOnLedger
			expiry := l.ExpiryTimestamp()
			tenant := l.TenantXRPAddress
			s.CreatedTimestamp = &created
			s.CreatedLedger = &ledger
			s.ExpiryTimestamp = &expiry
			s.Tenant = &tenant
		}
		content = append(content, s)
	}

	return json.Marshal(listResponse{Type: TypeListRes, Content: content})
}

// genericResponse is the {type, content} envelope used for initiate_res,
// destroy_res, start_res, stop_res, error, create_error and inspect_error.
type genericResponse struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

func buildGeneric(responseType, content string) ([]byte, error) {
	return json.Marshal(genericResponse{Type: responseType, Content: content})
}

// BuildInitiateRes renders an initiate_res with a human-readable message.
func BuildInitiateRes(content string) ([]byte, error) {
	return buildGeneric(TypeInitiateRes, content)
}

// BuildDestroyRes renders a destroy_res with a human-readable message.
func BuildDestroyRes(content string) ([]byte, error) {
	return buildGeneric(TypeDestroyRes, content)
}

// BuildStartRes renders a start_res with a human-readable message.
func BuildStartRes(content string) ([]byte, error) {
	return buildGeneric(TypeStartRes, content)
}

// BuildStopRes renders a stop_res with a human-readable message.
func BuildStopRes(content string) ([]byte, error) {
	return buildGeneric(TypeStopRes, content)
}

// BuildError renders a generic error response.
func BuildError(content string) ([]byte, error) {
	return buildGeneric(TypeError, content)
}

// BuildCreateError renders a create-specific error response.
func BuildCreateError(content string) ([]byte, error) {
	return buildGeneric(TypeCreateError, content)
}

// BuildInspectError renders an inspect-specific error response.
func BuildInspectError(content string) ([]byte, error) {
	return buildGeneric(TypeInspectError, content)
}

// BuildInit renders the unsolicited message a RemoteSession emits once its
// connection is established.
func BuildInit() ([]byte, error) {
	return buildGeneric(TypeInit, "Connection initiated.")
}
