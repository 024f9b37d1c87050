package services

import (
	"encoding/json"
	"net/http"
	"regexp"
)

type Bank struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// IFSC format: four letter bank code, a zero, six alphanumeric branch chars.
var ifscPattern = regexp.MustCompile(`^[A-Z]{4}0[A-Z0-9]{6}$`)

var indianBanks = []Bank{
	{Code: "SBIN", Name: "State Bank of India"},
	{Code: "HDFC", Name: "HDFC Bank"},
	{Code: "ICIC", Name: "ICICI Bank"},
	{Code: "UTIB", Name: "Axis Bank"},
	{Code: "KKBK", Name: "Kotak Mahindra Bank"},
	{Code: "PUNB", Name: "Punjab National Bank"},
	{Code: "BARB", Name: "Bank of Baroda"},
	{Code: "CNRB", Name: "Canara Bank"},
	{Code: "UBIN", Name: "Union Bank of India"},
	{Code: "IDIB", Name: "Indian Bank"},
	{Code: "IOBA", Name: "Indian Overseas Bank"},
	{Code: "CBIN", Name: "Central Bank of India"},
	{Code: "BKID", Name: "Bank of India"},
	{Code: "MAHB", Name: "Bank of Maharashtra"},
	{Code: "UCBA", Name: "UCO Bank"},
	{Code: "PSIB", Name: "Punjab & Sind Bank"},
	{Code: "YESB", Name: "Yes Bank"},
	{Code: "INDB", Name: "IndusInd Bank"},
	{Code: "IDFB", Name: "IDFC First Bank"},
	{Code: "FDRL", Name: "Federal Bank"},
	{Code: "SIBL", Name: "South Indian Bank"},
	{Code: "KVBL", Name: "Karur Vysya Bank"},
	{Code: "TMBL", Name: "Tamilnad Mercantile Bank"},
	{Code: "CSBK", Name: "CSB Bank"},
	{Code: "DCBL", Name: "DCB Bank"},
	{Code: "RATN", Name: "RBL Bank"},
	{Code: "KARB", Name: "Karnataka Bank"},
	{Code: "JAKA", Name: "Jammu & Kashmir Bank"},
	{Code: "DBSS", Name: "DBS Bank India"},
	{Code: "CITI", Name: "Citibank India"},
	{Code: "HSBC", Name: "HSBC India"},
	{Code: "SCBL", Name: "Standard Chartered India"},
	{Code: "BDBL", Name: "Bandhan Bank"},
	{Code: "AUBL", Name: "AU Small Finance Bank"},
	{Code: "UJVN", Name: "Ujjivan Small Finance Bank"},
	{Code: "ESFB", Name: "Equitas Small Finance Bank"},
	{Code: "PYTM", Name: "Paytm Payments Bank"},
	{Code: "AIRP", Name: "Airtel Payments Bank"},
	{Code: "FINO", Name: "Fino Payments Bank"},
	{Code: "IPOS", Name: "India Post Payments Bank"},
}

var bankCodes = func() map[string]string {
	m := make(map[string]string, len(indianBanks))
	for _, b := range indianBanks {
		m[b.Code] = b.Name
	}
	return m
}()

// BankService answers which banks the payout rail can reach. The teacher
// bank-details form uses the list; payout eligibility uses ValidIFSC.
type BankService struct{}

func NewBankService() *BankService {
	return &BankService{}
}

// GetAllBanks lists supported banks
// @Summary List supported banks
// @Tags banks
// @Produce json
// @Success 200 {array} Bank
// @Router /banks [get]
func (bs *BankService) GetAllBanks(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	json.NewEncoder(w).Encode(indianBanks)
}

// ValidIFSC reports whether the code is well formed and belongs to a
// supported bank.
func (bs *BankService) ValidIFSC(code string) bool {
	if !ifscPattern.MatchString(code) {
		return false
	}
	_, ok := bankCodes[code[:4]]
	return ok
}

// BankName resolves the bank behind an IFSC code, empty if unknown.
func (bs *BankService) BankName(ifsc string) string {
	if len(ifsc) < 4 {
		return ""
	}
	return bankCodes[ifsc[:4]]
}
