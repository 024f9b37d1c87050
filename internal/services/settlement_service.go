package services

import (
	"context"
	"encoding/xml"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"

	"github.com/edunest/backend/internal/models"
)

const settlementQueue = "settlement_queue"

// SettlementService exports settled payout batches as ISO 20022 pacs.008
// messages for the downstream banking rail. Messages are queued in Redis;
// a separate forwarder drains the queue.
type SettlementService struct {
	redis *redis.Client
}

func NewSettlementService(redisClient *redis.Client) *SettlementService {
	return &SettlementService{redis: redisClient}
}

// ExportBatch builds the credit transfer message for a settled batch and
// pushes it onto the settlement queue.
func (s *SettlementService) ExportBatch(ctx context.Context, batch *models.PayoutBatch) error {
	if batch.Status != models.BatchSettled {
		return fmt.Errorf("batch %s is %s, only settled batches are exported", batch.ID, batch.Status)
	}

	doc, err := s.CreatePacs008(batch)
	if err != nil {
		return err
	}

	xmlData, err := s.ConvertToXML(doc)
	if err != nil {
		return err
	}

	if err := s.redis.RPush(ctx, settlementQueue, xmlData).Err(); err != nil {
		return fmt.Errorf("failed to queue settlement message: %w", err)
	}

	log.Printf("[SETTLEMENT] Batch %s queued: %d credit transfers", batch.ID, len(batch.Items))
	return nil
}

// CreatePacs008 maps a settled batch onto a pacs.008 credit transfer, one
// transaction per payee. The IFSC code rides as the clearing system
// member id of the creditor agent.
func (s *SettlementService) CreatePacs008(batch *models.PayoutBatch) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	msgId := uuid.New().String()
	now := time.Now()

	settlementDate := now
	if batch.SettledAt != nil {
		settlementDate = *batch.SettledAt
	}

	transfers := make([]pacs_v08.CreditTransferTransaction39, 0, len(batch.Items))
	for i, item := range batch.Items {
		instrId := common.Max35Text(fmt.Sprintf("%s-%d", batch.ID, i+1))
		creditor := common.Max140Text(item.Name)

		transfers = append(transfers, pacs_v08.CreditTransferTransaction39{
			PmtId: pacs_v08.PaymentIdentification7{
				InstrId:    &instrId,
				EndToEndId: common.Max35Text(batch.OrderRef),
				TxId:       &instrId,
			},
			IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(batch.Currency),
				Value: float64(item.Amount),
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			ChrgBr:        "SLEV",
			DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
				FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
					BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier("EDUNESTP")}[0],
				},
			},
			Dbtr: pacs_v08.PartyIdentification135{
				Nm: &[]common.Max140Text{common.Max140Text("EduNest Marketplace")}[0],
			},
			CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
				FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
					ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
						MmbId: common.Max35Text(item.IFSCCode),
					},
				},
			},
			Cdtr: pacs_v08.PartyIdentification135{
				Nm: &creditor,
			},
		})
	}

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(now),
			NbOfTxs: common.Max15NumericText(fmt.Sprintf("%d", len(transfers))),
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(batch.Currency),
				Value: float64(batch.TotalAmount),
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG",
			},
		},
		CdtTrfTxInf: transfers,
	}

	return doc, nil
}

// ConvertToXML renders an ISO 20022 document as an XML string.
func (s *SettlementService) ConvertToXML(doc interface{}) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}

// QueueDepth reports how many settlement messages await forwarding.
func (s *SettlementService) QueueDepth(ctx context.Context) (int64, error) {
	return s.redis.LLen(ctx, settlementQueue).Result()
}
