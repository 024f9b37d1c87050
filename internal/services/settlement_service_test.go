package services

import (
	"context"
	"strings"
	"testing"
	"time"

	redismock "github.com/go-redis/redismock/v8"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/stretchr/testify/assert"

	"github.com/edunest/backend/internal/models"
)

func settledBatch() *models.PayoutBatch {
	settledAt := time.Now()
	return &models.PayoutBatch{
		ID:          "batch1",
		Status:      models.BatchSettled,
		TotalAmount: 300,
		Currency:    "INR",
		OrderRef:    "order_1",
		PaymentRef:  "pay_1",
		SettledAt:   &settledAt,
		Items: []models.PayoutItem{
			{BatchID: "batch1", AccountID: "t1", Name: "Asha Verma", Amount: 100, AccountNo: "123456789012", IFSCCode: "SBIN0001234"},
			{BatchID: "batch1", AccountID: "t2", Name: "Ravi Nair", Amount: 200, AccountNo: "234567890123", IFSCCode: "HDFC0005678"},
		},
	}
}

func TestSettlementService_CreatePacs008(t *testing.T) {
	redisClient, _ := redismock.NewClientMock()
	service := NewSettlementService(redisClient)

	doc, err := service.CreatePacs008(settledBatch())
	assert.NoError(t, err)

	assert.Equal(t, common.Max15NumericText("2"), doc.GrpHdr.NbOfTxs)
	assert.Equal(t, float64(300), doc.GrpHdr.TtlIntrBkSttlmAmt.Value)
	assert.Equal(t, common.ActiveCurrencyCode("INR"), doc.GrpHdr.TtlIntrBkSttlmAmt.Ccy)

	assert.Len(t, doc.CdtTrfTxInf, 2)
	first := doc.CdtTrfTxInf[0]
	assert.Equal(t, float64(100), first.IntrBkSttlmAmt.Value)
	assert.Equal(t, common.Max35Text("order_1"), first.PmtId.EndToEndId)
	assert.Equal(t, common.Max35Text("SBIN0001234"), first.CdtrAgt.FinInstnId.ClrSysMmbId.MmbId)
	assert.Equal(t, common.Max140Text("Asha Verma"), *first.Cdtr.Nm)
}

func TestSettlementService_ConvertToXML(t *testing.T) {
	redisClient, _ := redismock.NewClientMock()
	service := NewSettlementService(redisClient)

	doc, err := service.CreatePacs008(settledBatch())
	assert.NoError(t, err)

	xmlData, err := service.ConvertToXML(doc)
	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(xmlData, "<?xml"))
	assert.Contains(t, xmlData, "CdtTrfTxInf")
	assert.Contains(t, xmlData, "SBIN0001234")
}

func TestSettlementService_ExportBatch(t *testing.T) {
	t.Run("settled batch is queued", func(t *testing.T) {
		redisClient, redisMock := redismock.NewClientMock()
		service := NewSettlementService(redisClient)

		redisMock.Regexp().ExpectRPush(settlementQueue, `(?s)<\?xml.*CdtTrfTxInf.*`).SetVal(1)

		err := service.ExportBatch(context.Background(), settledBatch())
		assert.NoError(t, err)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("unsettled batch is refused", func(t *testing.T) {
		redisClient, _ := redismock.NewClientMock()
		service := NewSettlementService(redisClient)

		batch := settledBatch()
		batch.Status = models.BatchOrdered

		err := service.ExportBatch(context.Background(), batch)
		assert.Error(t, err)
	})
}
