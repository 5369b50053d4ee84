// Command possim is a manual POS simulator for a running tier3d: it dials
// the POSLOYALTY listener, walks one customer session (online status, begin
// customer, rewards, finalize or cancel, end customer), and prints what the
// register would see.
//
// Examples:
//
//	possim -server localhost:7001 -lid 5551234567 -upc 012345678905 -price 9.49
//	possim -lid 5551234567 -age=false         # cashier declined AVT
//	possim -cancel                            # void instead of finalize
//	possim -status-only                       # liveness probe only
package main

import (
	"encoding/xml"
	"flag"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/RTNSmart/tier3-engine/internal/posproto"
)

const roundTripTimeout = 10 * time.Second

func main() {
	var (
		server     = flag.String("server", "localhost:7001", "tier3d POS listener address")
		storeID    = flag.String("store", "ST-0042", "store location ID")
		cashierID  = flag.String("cashier", "101", "cashier ID")
		lid        = flag.String("lid", "5551234567", "loyalty ID (phone digits or QR URL)")
		txnID      = flag.String("txn", "", "POS transaction ID (default: derived from the clock)")
		upc        = flag.String("upc", "012345678905", "UPC for the single basket line")
		qty        = flag.Int("qty", 1, "sales quantity")
		price      = flag.String("price", "9.49", "regular sell price per unit")
		desc       = flag.String("desc", "MARLBORO GOLD PK", "line description")
		age        = flag.Bool("age", true, "cashier confirmed age verification")
		cancel     = flag.Bool("cancel", false, "cancel the transaction instead of finalizing")
		statusOnly = flag.Bool("status-only", false, "send the online status probe and exit")
	)
	flag.Parse()

	transactionID := *txnID
	if transactionID == "" {
		transactionID = fmt.Sprintf("SIM-%d", time.Now().Unix())
	}

	conn, err := net.Dial("tcp", *server)
	if err != nil {
		log.Fatalf("dial %s: %v", *server, err)
	}
	defer conn.Close()
	log.Printf("connected to %s", *server)

	sim := &session{conn: conn, storeID: *storeID}

	var status posproto.GetLoyaltyOnlineStatusResponse
	if err := sim.call(&posproto.GetLoyaltyOnlineStatusRequest{Header: sim.header()}, &status); err != nil {
		log.Fatalf("online status: %v", err)
	}
	log.Printf("online status: %s (vendor %s %s)",
		status.LoyaltyOnlineStatus.Value, status.Header.VendorName, status.Header.VendorModelVersion)
	if *statusOnly {
		return
	}

	// Session announcements are fire-and-forget; the daemon sends no reply.
	if err := sim.send(&posproto.BeginCustomerRequest{
		Header:    sim.header(),
		LoyaltyID: posproto.ValueAttr{Value: *lid},
	}); err != nil {
		log.Fatalf("begin customer: %v", err)
	}

	ageValue := "no"
	if *age {
		ageValue = "yes"
	}
	rewardsReq := &posproto.GetRewardsRequest{
		Header:        sim.header(),
		TransactionID: transactionID,
		CashierID:     *cashierID,
		LoyaltyID:     posproto.ValueAttr{Value: *lid},
		AgeVerified:   posproto.ValueAttr{Value: ageValue},
		Lines: []posproto.TransactionLine{{
			LineNumber:       1,
			ItemCode:         *upc,
			SalesQuantity:    *qty,
			RegularSellPrice: *price,
			Description:      *desc,
		}},
	}

	var rewards posproto.GetRewardsResponse
	if err := sim.call(rewardsReq, &rewards); err != nil {
		log.Fatalf("get rewards: %v", err)
	}
	printRewards(transactionID, &rewards)

	if *cancel {
		var resp posproto.CancelTransactionResponse
		if err := sim.call(&posproto.CancelTransactionRequest{
			Header:        sim.header(),
			TransactionID: transactionID,
		}, &resp); err != nil {
			log.Fatalf("cancel transaction: %v", err)
		}
		log.Printf("cancel acknowledged: %s", resp.Status)
	} else {
		finalize := &posproto.FinalizeRewardsRequest{
			Header:             sim.header(),
			TransactionID:      transactionID,
			LoyaltyOfflineFlag: posproto.ValueAttr{Value: "no"},
		}
		for _, r := range rewards.RewardActions.AddRewards {
			finalize.RewardIDs = append(finalize.RewardIDs, r.LoyaltyRewardID)
		}
		var resp posproto.FinalizeRewardsResponse
		if err := sim.call(finalize, &resp); err != nil {
			log.Fatalf("finalize rewards: %v", err)
		}
		log.Printf("finalize acknowledged: %s (%d reward ids reported)", resp.Status, len(finalize.RewardIDs))
	}

	if err := sim.send(&posproto.EndCustomerRequest{Header: sim.header()}); err != nil {
		log.Fatalf("end customer: %v", err)
	}
	log.Printf("session complete")
}

// session numbers the POS sequence IDs and frames the XML conversation.
type session struct {
	conn    net.Conn
	storeID string
	seq     int
}

func (s *session) header() posproto.RequestHeader {
	s.seq++
	return posproto.RequestHeader{
		POSSequenceID:   fmt.Sprintf("%06d", s.seq),
		StoreLocationID: s.storeID,
	}
}

// send frames one request without waiting for a reply.
func (s *session) send(req any) error {
	payload, err := posproto.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(roundTripTimeout)); err != nil {
		return err
	}
	return posproto.WriteFrame(s.conn, payload)
}

// call frames one request and decodes the single response frame into resp.
func (s *session) call(req, resp any) error {
	if err := s.send(req); err != nil {
		return err
	}
	if err := s.conn.SetReadDeadline(time.Now().Add(roundTripTimeout)); err != nil {
		return err
	}
	payload, err := posproto.ReadFrame(s.conn, 0)
	if err != nil {
		return fmt.Errorf("read response frame: %w", err)
	}
	if err := xml.Unmarshal(payload, resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func printRewards(transactionID string, resp *posproto.GetRewardsResponse) {
	log.Printf("rewards response for %s:", transactionID)
	log.Printf("  approved=%s loyalty_valid=%s age_verified=%s eaiv=%s",
		resp.RequestApproved.Value, resp.LoyaltyIDValidFlag.Value,
		resp.AgeVerified.Value, resp.EAIVVerified.Value)

	if len(resp.RewardActions.AddRewards) == 0 {
		log.Printf("  no rewards granted")
	}
	for _, r := range resp.RewardActions.AddRewards {
		log.Printf("  reward %s: line %d, -$%s (%s)",
			r.LoyaltyRewardID, r.RewardTargetLineNumber, r.RewardValue, r.RewardReceiptDescShort)
	}

	if len(resp.ReceiptLines) > 0 {
		fmt.Println("+--------------------------------+")
		for _, line := range resp.ReceiptLines {
			fmt.Printf("|%-32s|\n", line.Text)
		}
		fmt.Println("+--------------------------------+")
	}
}
