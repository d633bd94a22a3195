package gin

import (
	"bytes"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	x402 "github.com/tlguszz1010/Pixel-Pay"
	x402http "github.com/tlguszz1010/Pixel-Pay/http"
)

const paymentContextKey = "x402.payment"

// MiddlewareOptions configures PaymentMiddleware.
type MiddlewareOptions struct {
	ResourceRootURL string
	Logger          *slog.Logger
}

// Options is the type for the options for the PaymentMiddleware.
type Options func(*MiddlewareOptions)

// WithResourceRootURL sets the public origin used in resource URLs, e.g.
// "https://seller.example.com". Without it the request host is used.
func WithResourceRootURL(resourceRootURL string) Options {
	return func(options *MiddlewareOptions) {
		options.ResourceRootURL = resourceRootURL
	}
}

// WithLogger sets the middleware logger.
func WithLogger(logger *slog.Logger) Options {
	return func(options *MiddlewareOptions) {
		options.Logger = logger
	}
}

// PaymentMiddleware gates the guard's protected routes. Unpaid requests get a
// 402 before the handler runs. Paid requests run with a buffered response;
// a 2xx answer is settled before it is flushed, anything else releases the
// proof. Handlers may settle or release earlier through PaymentFromContext.
func PaymentMiddleware(guard *x402http.PaymentGuard, opts ...Options) gin.HandlerFunc {
	options := &MiddlewareOptions{Logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()

		header := c.GetHeader(x402.HeaderPaymentSignature)
		if header == "" {
			header = c.GetHeader(x402.HeaderLegacyPayment)
		}

		payment, err := guard.Check(ctx, x402http.RequestInfo{
			Method:        c.Request.Method,
			Path:          c.Request.URL.Path,
			URL:           resourceURL(c, options.ResourceRootURL),
			PaymentHeader: header,
		})
		if err != nil {
			options.Logger.Error("payment check failed", "path", c.Request.URL.Path, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":       "Payment verification unavailable",
				"x402Version": x402.ProtocolVersion,
			})
			return
		}

		switch payment.State {
		case x402http.StateFree:
			c.Next()
			return
		case x402http.StateUnpaid:
			AbortWithPaymentRequired(c, payment)
			return
		}

		c.Set(paymentContextKey, payment)

		writer := &responseWriter{
			ResponseWriter: c.Writer,
			body:           &bytes.Buffer{},
			statusCode:     http.StatusOK,
		}
		c.Writer = writer

		c.Next()

		c.Writer = writer.ResponseWriter

		if payment.Settlement() == nil && !payment.Closed() {
			if writer.statusCode < 200 || writer.statusCode >= 300 {
				payment.Release()
			} else if _, err := payment.Settle(ctx); err != nil {
				options.Logger.Warn("settlement failed after handler", "path", c.Request.URL.Path, "error", err)
				requote, rerr := payment.Requote(ctx, "Payment settlement failed")
				if rerr != nil {
					c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": rerr.Error()})
					return
				}
				AbortWithPaymentRequired(c, requote)
				return
			}
		}

		if settlement := payment.Settlement(); settlement != nil {
			encoded, err := x402http.EncodePaymentResponse(*settlement)
			if err == nil {
				c.Header(x402.HeaderPaymentResponse, encoded)
			}
		}

		c.Writer.WriteHeader(writer.statusCode)
		c.Writer.Write(writer.body.Bytes())
	}
}

// PaymentFromContext returns the verified payment for this request, or nil on
// free routes.
func PaymentFromContext(c *gin.Context) *x402http.Payment {
	value, ok := c.Get(paymentContextKey)
	if !ok {
		return nil
	}
	payment, _ := value.(*x402http.Payment)
	return payment
}

// AbortWithPaymentRequired answers 402 with the requirement in both the
// PAYMENT-REQUIRED header and the JSON body.
func AbortWithPaymentRequired(c *gin.Context, payment *x402http.Payment) {
	c.Header(x402.HeaderPaymentRequired, payment.Header)
	c.AbortWithStatusJSON(http.StatusPaymentRequired, payment.Required)
}

func resourceURL(c *gin.Context, root string) string {
	if root != "" {
		return root + c.Request.URL.RequestURI()
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host + c.Request.URL.RequestURI()
}

// responseWriter captures the handler's response until payment is settled.
type responseWriter struct {
	gin.ResponseWriter
	body       *bytes.Buffer
	statusCode int
	written    bool
}

func (w *responseWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
}

func (w *responseWriter) WriteHeaderNow() {}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.Write(b)
}

func (w *responseWriter) WriteString(s string) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.WriteString(s)
}

func (w *responseWriter) Status() int {
	return w.statusCode
}

func (w *responseWriter) Written() bool {
	return w.written
}

func (w *responseWriter) Size() int {
	return w.body.Len()
}
