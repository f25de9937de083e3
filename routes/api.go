package routes

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ustawi/donation-gateway/models"
	"github.com/ustawi/donation-gateway/services"
	"github.com/ustawi/donation-gateway/utils"
)

const (
	requestTimeout  = 15 * time.Second
	maxWebhookBytes = 1 << 20
	signatureHeader = "x-paystack-signature"
)

// Flash messages shown on the donate page.
const (
	flashThankYou      = "Thank you for your donation! Your payment has been processed successfully."
	flashNotSuccessful = "Payment was not successful. Please try again."
	flashUnverified    = "Unable to verify payment. Please contact support."
	flashBadReference  = "Invalid payment reference."
	flashProcessing    = "Your payment is still being processed. We will update you once it is confirmed."
	flashInvalidForm   = "Please correct the highlighted fields and try again."
)

type APIRoutes struct {
	donations  *services.DonationService
	reconciler *services.Reconciler
	store      *services.DonationStore
	hub        *Hub
	donatePage string
	log        *utils.Logger
}

func NewAPIRoutes(donations *services.DonationService, reconciler *services.Reconciler, store *services.DonationStore, hub *Hub, donatePage string, logger *utils.Logger) *APIRoutes {
	if donatePage == "" {
		donatePage = "/donate"
	}
	return &APIRoutes{
		donations:  donations,
		reconciler: reconciler,
		store:      store,
		hub:        hub,
		donatePage: donatePage,
		log:        logger,
	}
}

// SetupRoutes registers every endpoint on router.
func (ar *APIRoutes) SetupRoutes(router *gin.Engine) {
	router.Use(SecurityHeaders(), RequestLogger(ar.log))

	api := router.Group("/api")
	{
		api.POST("/donate", ar.CreateDonation) // JSON, for AJAX clients
	}

	router.POST("/donate", ar.CreateDonationForm)

	donations := router.Group("/donations")
	{
		donations.GET("/callback", ar.HandleCallback)
		donations.GET("/status/:number", ar.GetStatus)
		donations.GET("/verify/:number", ar.VerifyDonation)
		donations.GET("/:number/qrcode", ar.GenerateQRCode)
	}

	paystack := router.Group("/paystack")
	{
		paystack.POST("/webhook", ar.HandleWebhook)
		paystack.GET("/webhook/test", ar.WebhookTest)
	}

	router.GET("/ws", ar.WebSocketHandler)
}

// SecurityHeaders sets the response hardening headers and answers CORS preflights.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")

		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RequestLogger logs one line per request.
func RequestLogger(logger *utils.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request", utils.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		})
	}
}

func withTimeout(c *gin.Context) context.CancelFunc {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	c.Request = c.Request.WithContext(ctx)
	return cancel
}

// CreateDonation accepts a JSON donation and starts payment.
func (ar *APIRoutes) CreateDonation(c *gin.Context) {
	defer withTimeout(c)()

	var req services.DonationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request body"})
		return
	}

	sub, err := ar.donations.Submit(c.Request.Context(), req)
	if err != nil {
		var verrs services.ValidationErrors
		if errors.As(err, &verrs) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "errors": verrs})
			return
		}
		body := gin.H{"success": false, "message": publicMessage(err)}
		if sub != nil {
			body["donation_number"] = sub.Donation.DonationNumber
		}
		c.JSON(initiationStatus(err), body)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"donation_number":   sub.Donation.DonationNumber,
		"action":            sub.Initiation.Action,
		"authorization_url": sub.Initiation.RedirectURL,
		"status":            sub.Initiation.Status,
		"message":           sub.Initiation.Message,
	})
}

// CreateDonationForm accepts a form donation. Card donors are sent to the
// hosted checkout; everything else goes back to the donate page with a flash.
func (ar *APIRoutes) CreateDonationForm(c *gin.Context) {
	defer withTimeout(c)()

	checkboxValue(c.Request, "is_anonymous")

	var req services.DonationRequest
	if err := c.ShouldBind(&req); err != nil {
		ar.redirectDonate(c, "error", flashInvalidForm, "")
		return
	}

	sub, err := ar.donations.Submit(c.Request.Context(), req)
	if err != nil {
		var verrs services.ValidationErrors
		if errors.As(err, &verrs) {
			q := url.Values{}
			q.Set("error", flashInvalidForm)
			for field, msg := range verrs {
				q.Set("errors["+field+"]", msg)
			}
			ar.redirectWith(c, q)
			return
		}
		number := ""
		if sub != nil {
			number = sub.Donation.DonationNumber
		}
		ar.redirectDonate(c, "error", publicMessage(err), number)
		return
	}

	in := sub.Initiation
	switch in.Action {
	case services.ActionRedirect:
		c.Redirect(http.StatusFound, in.RedirectURL)
	case services.ActionCompleted:
		ar.redirectDonate(c, "success", in.Message, sub.Donation.DonationNumber)
	default:
		ar.redirectDonate(c, "info", in.Message, sub.Donation.DonationNumber)
	}
}

// HandleCallback is where Paystack returns the donor after checkout.
func (ar *APIRoutes) HandleCallback(c *gin.Context) {
	defer withTimeout(c)()

	reference := c.Query("reference")
	if reference == "" {
		reference = c.Query("trxref")
	}

	res, err := ar.reconciler.HandleCallback(c.Request.Context(), reference)
	if err != nil {
		if errors.Is(err, services.ErrMissingReference) {
			ar.redirectDonate(c, "error", flashBadReference, "")
			return
		}
		ar.log.Error("payment callback error", utils.Fields{"reference": reference, "error": err})
		ar.redirectDonate(c, "error", flashUnverified, reference)
		return
	}

	switch res.Donation.Status {
	case models.StatusCompleted:
		ar.redirectDonate(c, "success", flashThankYou, reference)
	case models.StatusFailed, models.StatusCancelled:
		ar.redirectDonate(c, "error", flashNotSuccessful, reference)
	default:
		ar.redirectDonate(c, "info", flashProcessing, reference)
	}
}

// HandleWebhook receives Paystack events. Anything but a bad signature is
// acknowledged with 200 so the gateway stops retrying.
func (ar *APIRoutes) HandleWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		ar.log.Error("failed to read webhook body", utils.Fields{"error": err})
		c.String(http.StatusOK, "OK")
		return
	}

	res, err := ar.reconciler.HandleWebhook(c.Request.Context(), body, c.GetHeader(signatureHeader))
	if errors.Is(err, services.ErrInvalidSignature) {
		c.String(http.StatusUnauthorized, "Unauthorized")
		return
	}
	if err != nil {
		ar.log.Error("webhook processing error", utils.Fields{"error": err})
	} else {
		ar.log.Info("webhook processed", utils.Fields{"outcome": res.Outcome, "recorded": res.Recorded})
	}
	c.String(http.StatusOK, "OK")
}

// WebhookTest lets operators check the webhook route is reachable.
func (ar *APIRoutes) WebhookTest(c *gin.Context) {
	ar.log.Info("webhook test endpoint hit", utils.Fields{
		"client_ip":  c.ClientIP(),
		"user_agent": c.Request.UserAgent(),
	})
	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"message":   "Webhook endpoint is accessible",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// GetStatus returns the public status of a donation.
func (ar *APIRoutes) GetStatus(c *gin.Context) {
	view, err := ar.donations.Status(c.Request.Context(), c.Param("number"))
	if err != nil {
		ar.notFoundOrError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// VerifyDonation re-checks a donation with Paystack and applies the result.
func (ar *APIRoutes) VerifyDonation(c *gin.Context) {
	defer withTimeout(c)()

	number := c.Param("number")
	res, err := ar.reconciler.Reverify(c.Request.Context(), number)
	if err != nil {
		if errors.Is(err, services.ErrDonationNotFound) {
			ar.notFoundOrError(c, err)
			return
		}
		ar.log.Error("manual verification error", utils.Fields{"reference": number, "error": err})
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "message": "Verification failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"donation_number": res.Donation.DonationNumber,
		"outcome":         res.Outcome,
		"status":          res.Donation.Status,
		"recorded":        res.Recorded,
	})
}

// GenerateQRCode renders the hosted checkout link of an open card donation
// so the donor can finish payment on another device.
func (ar *APIRoutes) GenerateQRCode(c *gin.Context) {
	d, err := ar.store.FindByNumber(c.Request.Context(), c.Param("number"))
	if err != nil {
		ar.notFoundOrError(c, err)
		return
	}
	if d.IsTerminal() || d.CheckoutURL == nil || *d.CheckoutURL == "" {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "No checkout link for this donation"})
		return
	}

	size, _ := strconv.Atoi(c.Query("size"))
	png, err := utils.GenerateQRCode(*d.CheckoutURL, size)
	if err != nil {
		ar.log.Error("qrcode generation failed", utils.Fields{"donation_id": d.ID, "error": err})
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Could not generate QR code"})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (ar *APIRoutes) notFoundOrError(c *gin.Context, err error) {
	if errors.Is(err, services.ErrDonationNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Donation not found"})
		return
	}
	ar.log.Error("donation lookup failed", utils.Fields{"error": err})
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal server error"})
}

// redirectDonate sends the browser back to the donate page with a flash
// message and, when known, the donation number.
func (ar *APIRoutes) redirectDonate(c *gin.Context, kind, message, number string) {
	q := url.Values{}
	q.Set(kind, message)
	if number != "" {
		q.Set("donation_number", number)
	}
	ar.redirectWith(c, q)
}

func (ar *APIRoutes) redirectWith(c *gin.Context, q url.Values) {
	sep := "?"
	if strings.Contains(ar.donatePage, "?") {
		sep = "&"
	}
	c.Redirect(http.StatusFound, ar.donatePage+sep+q.Encode())
}

// checkboxValue rewrites the browser checkbox value "on" to "true" so the
// field binds as a bool.
func checkboxValue(r *http.Request, field string) {
	if err := r.ParseForm(); err != nil {
		return
	}
	if !strings.EqualFold(r.Form.Get(field), "on") {
		return
	}
	r.Form.Set(field, "true")
	if r.PostForm != nil {
		r.PostForm.Set(field, "true")
	}
}

// publicMessage picks the donor-facing text for a submission error.
func publicMessage(err error) string {
	var ierr *services.InitiationError
	switch {
	case errors.As(err, &ierr):
		return ierr.Message
	case errors.Is(err, services.ErrPersistence), errors.Is(err, services.ErrNotPending):
		return err.Error()
	default:
		return "An error occurred. Please try again."
	}
}

func initiationStatus(err error) int {
	var ierr *services.InitiationError
	switch {
	case errors.As(err, &ierr) && ierr.Declined:
		return http.StatusUnprocessableEntity
	case errors.As(err, &ierr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
