package fee

import (
	"net/http"

	"bitwise74/school-api/internal"
	"bitwise74/school-api/internal/access"
	"bitwise74/school-api/internal/model"
	"bitwise74/school-api/internal/service"
	"bitwise74/school-api/pkg/apperr"
	"bitwise74/school-api/pkg/middleware"
	"bitwise74/school-api/pkg/respond"

	"github.com/gin-gonic/gin"
)

// IdempotencyHeader lets clients retry a payment without paying twice
const IdempotencyHeader = "Idempotency-Key"

type payBody struct {
	Amount             int64          `json:"amount" binding:"required,gt=0"`
	PaymentMethod      string         `json:"paymentMethod" binding:"required,oneof=card bank_transfer cash mobile_money"`
	TransactionDetails map[string]any `json:"transactionDetails"`
}

// FeePay pays towards a fee of one of the caller's children
func FeePay(c *gin.Context, d *internal.Deps) {
	id := middleware.MustIdentity(c)
	ctx := c.Request.Context()

	var data payBody
	if !respond.Bind(c, &data) {
		return
	}

	key := c.GetHeader(IdempotencyHeader)
	if len(key) > 128 {
		respond.Error(c, apperr.BadRequest("Idempotency-Key is too long"))
		return
	}

	fee, err := d.Ledger.Fee(ctx, c.Param("feeId"))
	if err != nil {
		respond.Error(c, err)
		return
	}

	if _, err := access.ScopeStudent(ctx, d.DB, id, fee.StudentID); err != nil {
		respond.Error(c, err)
		return
	}

	res, err := d.Ledger.Pay(ctx, service.PayRequest{
		FeeID:          fee.ID,
		Amount:         data.Amount,
		Method:         data.PaymentMethod,
		Details:        data.TransactionDetails,
		PaidBy:         id.ID,
		IdempotencyKey: key,
	})
	if err != nil {
		respond.Error(c, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}

	c.JSON(status, gin.H{
		"success": true,
		"data":    res,
		"message": "Payment processed successfully",
	})
}

// FeeReceipt returns a recorded payment with the fee it paid
func FeeReceipt(c *gin.Context, d *internal.Deps) {
	id := middleware.MustIdentity(c)
	ctx := c.Request.Context()

	payment, err := d.Ledger.Receipt(ctx, c.Param("paymentId"))
	if err != nil {
		respond.Error(c, err)
		return
	}

	if id.Role == model.RoleParent {
		if _, err := access.ScopeStudent(ctx, d.DB, id, payment.StudentID); err != nil {
			respond.Error(c, err)
			return
		}
	}

	respond.OK(c, payment)
}
