package posproto

import (
	"bytes"
	"encoding/binary"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/RTNSmart/tier3-engine/internal/agegate"
	"github.com/RTNSmart/tier3-engine/internal/basket"
	"github.com/RTNSmart/tier3-engine/internal/engine"
	"github.com/RTNSmart/tier3-engine/internal/money"
)

// Protocol identity echoed in every response header.
const (
	InterfaceVersion = "1.2"
	VendorName       = "Gilbarco"
)

// Statuses used by finalize and cancel acknowledgements.
const (
	StatusSuccess  = "Success"
	StatusNotFound = "Not Found"
)

// ErrMalformedRequest marks inbound XML that cannot be turned into a
// decision request: missing transaction ID or an unextractable basket line.
var ErrMalformedRequest = errors.New("posproto: malformed request")

// RootElement returns the local name of the payload's root XML element,
// which routes the message.
func RootElement(payload []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(payload))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("scan xml root: %w", err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local, nil
		}
	}
}

// Marshal renders a message with the XML declaration prepended.
func Marshal(v any) ([]byte, error) {
	body, err := xml.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}

// ValueAttr accepts a field the POS sends either as element text or as a
// value attribute: <LoyaltyID value="555..."/> and <LoyaltyID>555...</LoyaltyID>
// are equivalent.
type ValueAttr struct {
	Value string `xml:"value,attr,omitempty"`
	Text  string `xml:",chardata"`
}

// Get returns the attribute when present, the trimmed text otherwise.
func (v ValueAttr) Get() string {
	if s := strings.TrimSpace(v.Value); s != "" {
		return s
	}
	return strings.TrimSpace(v.Text)
}

// YesNoAttr is the protocol's boolean: <X value="yes"/> or <X value="no"/>.
type YesNoAttr struct {
	Value string `xml:"value,attr"`
}

func yesNo(b bool) YesNoAttr {
	if b {
		return YesNoAttr{Value: "yes"}
	}
	return YesNoAttr{Value: "no"}
}

// RequestHeader opens every POS request.
type RequestHeader struct {
	POSSequenceID   string `xml:"POSSequenceID"`
	StoreLocationID string `xml:"StoreLocationID"`
}

// ResponseHeader opens every response.
type ResponseHeader struct {
	POSLoyaltyInterfaceVersion string `xml:"POSLoyaltyInterfaceVersion,attr"`
	VendorName                 string `xml:"VendorName"`
	VendorModelVersion         string `xml:"VendorModelVersion"`
	POSSequenceID              string `xml:"POSSequenceID"`
	LoyaltySequenceID          string `xml:"LoyaltySequenceID"`
}

// NewResponseHeader builds a header echoing the request's sequence ID and
// carrying a fresh loyalty sequence ID.
func NewResponseHeader(posSequenceID, vendorModelVersion string) ResponseHeader {
	return ResponseHeader{
		POSLoyaltyInterfaceVersion: InterfaceVersion,
		VendorName:                 VendorName,
		VendorModelVersion:         vendorModelVersion,
		POSSequenceID:              posSequenceID,
		LoyaltySequenceID:          NewLoyaltySequenceID(),
	}
}

// NewLoyaltySequenceID generates the nine-digit sequence number stamped on
// each response.
func NewLoyaltySequenceID() string {
	u := uuid.New()
	return fmt.Sprintf("%09d", binary.BigEndian.Uint64(u[0:8])%1_000_000_000)
}

// GetLoyaltyOnlineStatusRequest is the POS liveness probe.
type GetLoyaltyOnlineStatusRequest struct {
	XMLName xml.Name      `xml:"GetLoyaltyOnlineStatusRequest"`
	Header  RequestHeader `xml:"RequestHeader"`
}

type GetLoyaltyOnlineStatusResponse struct {
	XMLName             xml.Name       `xml:"GetLoyaltyOnlineStatusResponse"`
	Header              ResponseHeader `xml:"ResponseHeader"`
	LoyaltyOnlineStatus YesNoAttr      `xml:"LoyaltyOnlineStatus"`
}

// BeginCustomerRequest announces a customer session; fire-and-forget.
type BeginCustomerRequest struct {
	XMLName   xml.Name      `xml:"BeginCustomerRequest"`
	Header    RequestHeader `xml:"RequestHeader"`
	LoyaltyID ValueAttr     `xml:"LoyaltyID"`
}

// EndCustomerRequest closes a customer session; fire-and-forget.
type EndCustomerRequest struct {
	XMLName xml.Name      `xml:"EndCustomerRequest"`
	Header  RequestHeader `xml:"RequestHeader"`
}

// TransactionLine is one basket line as the POS sends it. ItemCode and
// POSCode both carry the UPC; either may be present. RegularSellPrice is
// the unit price, with ExtendedPrice (quantity total) as the fallback.
type TransactionLine struct {
	LineNumber       int    `xml:"LineNumber"`
	ItemCode         string `xml:"ItemCode"`
	POSCode          string `xml:"POSCode"`
	SalesQuantity    int    `xml:"SalesQuantity"`
	RegularSellPrice string `xml:"RegularSellPrice"`
	ExtendedPrice    string `xml:"ExtendedPrice"`
	Description      string `xml:"Description"`
}

// GetRewardsRequest asks for the decision on a transaction.
type GetRewardsRequest struct {
	XMLName       xml.Name          `xml:"GetRewardsRequest"`
	Header        RequestHeader     `xml:"RequestHeader"`
	TransactionID string            `xml:"POSTransactionID"`
	CashierID     string            `xml:"CashierID"`
	LoyaltyID     ValueAttr         `xml:"LoyaltyID"`
	AgeVerified   ValueAttr         `xml:"AgeVerified"`
	Lines         []TransactionLine `xml:"TransactionLine"`
}

// AVTStatus maps the POS age-verification value onto the gate's status
// domain. The POS fleet is not consistent here; yes/no flags and spelled
// statuses both occur.
func AVTStatus(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yes", "y", "true", agegate.StatusVerified:
		return agegate.StatusVerified
	case "no", "n", "false", agegate.StatusNotVerified:
		return agegate.StatusNotVerified
	default:
		return agegate.StatusUnknown
	}
}

// DecisionRequest converts the wire request into a pipeline request.
// A missing transaction ID or a line whose quantity or price cannot be
// extracted is a malformed request; an empty UPC is not, the pipeline
// drops those lines itself.
func (r *GetRewardsRequest) DecisionRequest() (engine.Request, error) {
	transactionID := strings.TrimSpace(r.TransactionID)
	if transactionID == "" {
		return engine.Request{}, fmt.Errorf("%w: POSTransactionID missing", ErrMalformedRequest)
	}

	req := engine.Request{
		StoreID:       strings.TrimSpace(r.Header.StoreLocationID),
		TransactionID: transactionID,
		CashierID:     strings.TrimSpace(r.CashierID),
		LoyaltyID:     r.LoyaltyID.Get(),
		AVTStatus:     AVTStatus(r.AgeVerified.Get()),
		Lines:         make([]basket.RawLine, 0, len(r.Lines)),
	}
	for _, line := range r.Lines {
		raw, err := line.rawLine()
		if err != nil {
			return engine.Request{}, err
		}
		req.Lines = append(req.Lines, raw)
	}
	return req, nil
}

func (l TransactionLine) rawLine() (basket.RawLine, error) {
	if l.SalesQuantity <= 0 {
		return basket.RawLine{}, fmt.Errorf("%w: line %d has no sales quantity", ErrMalformedRequest, l.LineNumber)
	}

	upc := strings.TrimSpace(l.ItemCode)
	if upc == "" {
		upc = strings.TrimSpace(l.POSCode)
	}

	var unitPrice money.Cents
	switch {
	case strings.TrimSpace(l.RegularSellPrice) != "":
		parsed, err := money.Parse(l.RegularSellPrice)
		if err != nil {
			return basket.RawLine{}, fmt.Errorf("%w: line %d price %q: %v", ErrMalformedRequest, l.LineNumber, l.RegularSellPrice, err)
		}
		unitPrice = parsed
	case strings.TrimSpace(l.ExtendedPrice) != "":
		extended, err := money.Parse(l.ExtendedPrice)
		if err != nil {
			return basket.RawLine{}, fmt.Errorf("%w: line %d price %q: %v", ErrMalformedRequest, l.LineNumber, l.ExtendedPrice, err)
		}
		unitPrice, err = extended.DivHalfUp(int64(l.SalesQuantity))
		if err != nil {
			return basket.RawLine{}, fmt.Errorf("%w: line %d: %v", ErrMalformedRequest, l.LineNumber, err)
		}
	default:
		return basket.RawLine{}, fmt.Errorf("%w: line %d has no price", ErrMalformedRequest, l.LineNumber)
	}

	return basket.RawLine{
		LineNumber:  l.LineNumber,
		UPC:         upc,
		Quantity:    l.SalesQuantity,
		UnitPrice:   unitPrice,
		Description: strings.TrimSpace(l.Description),
	}, nil
}

// ReceiptLine is one printed line in the response.
type ReceiptLine struct {
	Text string `xml:",chardata"`
}

// RewardLimit caps the reward application; Tier 3 rewards are per-line.
type RewardLimit struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

// AddReward instructs the POS to apply one reward to one line.
type AddReward struct {
	InstantRewardFlag      string      `xml:"InstantRewardFlag,attr"`
	RewardDiscountMethod   string      `xml:"RewardDiscountMethod,attr"`
	LoyaltyRewardID        string      `xml:"LoyaltyRewardID"`
	RewardTargetLineNumber int         `xml:"RewardTargetLineNumber"`
	RewardValue            string      `xml:"RewardValue"`
	RewardLimit            RewardLimit `xml:"RewardLimit"`
	RewardReceiptDescShort string      `xml:"RewardReceiptDescShort"`
	RewardReceiptDescLong  string      `xml:"RewardReceiptDescLong"`
}

type RewardActions struct {
	AddRewards []AddReward `xml:"AddReward"`
}

// GetRewardsResponse carries the decision back to the POS.
type GetRewardsResponse struct {
	XMLName                 xml.Name       `xml:"GetRewardsResponse"`
	Header                  ResponseHeader `xml:"ResponseHeader"`
	RequestApproved         YesNoAttr      `xml:"RequestApproved"`
	LoyaltyIDValidFlag      YesNoAttr      `xml:"LoyaltyIDValidFlag"`
	AgeVerified             YesNoAttr      `xml:"AgeVerified"`
	EAIVVerified            YesNoAttr      `xml:"EAIVVerified"`
	AgeVerificationRequired YesNoAttr      `xml:"AgeVerificationRequired"`
	ReceiptLines            []ReceiptLine  `xml:"ReceiptLine"`
	RewardActions           RewardActions  `xml:"RewardActions"`
}

// BuildRewardsResponse renders a finished decision as the wire response.
func BuildRewardsResponse(d *engine.Decision, posSequenceID, vendorModelVersion string) GetRewardsResponse {
	resp := GetRewardsResponse{
		Header:                  NewResponseHeader(posSequenceID, vendorModelVersion),
		RequestApproved:         yesNo(true),
		LoyaltyIDValidFlag:      yesNo(d.Customer.Valid),
		AgeVerified:             yesNo(d.Age.AgeVerified),
		EAIVVerified:            yesNo(d.Age.EAIVVerified),
		AgeVerificationRequired: yesNo(!d.Age.AgeVerified),
	}
	for _, line := range d.Response.ReceiptLines {
		resp.ReceiptLines = append(resp.ReceiptLines, ReceiptLine{Text: line})
	}
	for _, r := range d.Response.Rewards {
		resp.RewardActions.AddRewards = append(resp.RewardActions.AddRewards, AddReward{
			InstantRewardFlag:      "yes",
			RewardDiscountMethod:   "amountOff",
			LoyaltyRewardID:        r.RewardID,
			RewardTargetLineNumber: r.LineNumber,
			RewardValue:            r.Value.String(),
			RewardLimit:            RewardLimit{Type: "quantity", Value: "1"},
			RewardReceiptDescShort: r.ShortDesc,
			RewardReceiptDescLong:  r.LongDesc,
		})
	}
	return resp
}

// BuildErrorRewardsResponse is the reply when the pipeline could not run:
// nothing approved, no rewards.
func BuildErrorRewardsResponse(posSequenceID, vendorModelVersion string) GetRewardsResponse {
	return GetRewardsResponse{
		Header:                  NewResponseHeader(posSequenceID, vendorModelVersion),
		RequestApproved:         yesNo(false),
		LoyaltyIDValidFlag:      yesNo(false),
		AgeVerified:             yesNo(false),
		EAIVVerified:            yesNo(false),
		AgeVerificationRequired: yesNo(true),
	}
}

// FinalizeRewardsRequest reports which rewards the POS applied.
type FinalizeRewardsRequest struct {
	XMLName            xml.Name      `xml:"FinalizeRewardsRequest"`
	Header             RequestHeader `xml:"RequestHeader"`
	TransactionID      string        `xml:"POSTransactionID"`
	LoyaltyOfflineFlag ValueAttr     `xml:"LoyaltyOfflineFlag"`
	RewardIDs          []string      `xml:"LoyaltyRewardID"`
}

type FinalizeRewardsResponse struct {
	XMLName xml.Name       `xml:"FinalizeRewardsResponse"`
	Header  ResponseHeader `xml:"ResponseHeader"`
	Status  string         `xml:"Status"`
}

// FinalizeStatus reproduces the acknowledgement rule: an offline finalize
// with no reward IDs has nothing to look up.
func (r *FinalizeRewardsRequest) FinalizeStatus() string {
	if strings.EqualFold(r.LoyaltyOfflineFlag.Get(), "yes") && len(r.RewardIDs) == 0 {
		return StatusNotFound
	}
	return StatusSuccess
}

// CancelTransactionRequest voids a transaction's loyalty session.
type CancelTransactionRequest struct {
	XMLName       xml.Name      `xml:"CancelTransactionRequest"`
	Header        RequestHeader `xml:"RequestHeader"`
	TransactionID string        `xml:"POSTransactionID"`
}

type CancelTransactionResponse struct {
	XMLName xml.Name       `xml:"CancelTransactionResponse"`
	Header  ResponseHeader `xml:"ResponseHeader"`
	Status  string         `xml:"Status"`
}
