// Package webhook implements the Admission Webhook (§4.11): a TLS HTTP
// server validating InfraWeave custom resources synchronously before
// admission, by running them through the Claim Validator. Decodes a
// standard Kubernetes AdmissionReview request/response and calls
// claimvalidator.Validate directly in-process, since §4.11 names no
// external policy engine for this path.
package webhook

import (
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"os"

	admissionv1 "k8s.io/api/admission/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/serializer"

	"go.uber.org/zap"

	"github.com/infraweave-io/infraweave/internal/claimvalidator"
	"github.com/infraweave-io/infraweave/internal/model"
)

var (
	scheme = runtime.NewScheme()
	codecs = serializer.NewCodecFactory(scheme)
)

func init() {
	_ = admissionv1.AddToScheme(scheme)
}

// Server is the Admission Webhook (§4.11).
type Server struct {
	Resolver claimvalidator.ModuleResolver
	Log      *zap.Logger

	// CertFile/KeyFile name a fixed TLS cert/key pair; when either is
	// absent the server falls back to plaintext (§4.11 "development
	// only").
	CertFile string
	KeyFile  string
	Addr     string
}

// Handler builds the mux §4.11 describes: POST /validate, GET /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/validate", s.handleValidate)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// ListenAndServe starts the server, serving TLS when CertFile/KeyFile are
// both present on disk and plaintext otherwise.
func (s *Server) ListenAndServe() error {
	srv := &http.Server{Addr: s.Addr, Handler: s.Handler()}
	if s.hasCert() {
		srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		return srv.ListenAndServeTLS(s.CertFile, s.KeyFile)
	}
	s.logger().Warn("TLS cert/key not found, serving plaintext (development only)", zap.String("cert", s.CertFile))
	return srv.ListenAndServe()
}

func (s *Server) hasCert() bool {
	if s.CertFile == "" || s.KeyFile == "" {
		return false
	}
	if _, err := os.Stat(s.CertFile); err != nil {
		return false
	}
	if _, err := os.Stat(s.KeyFile); err != nil {
		return false
	}
	return true
}

func (s *Server) logger() *zap.Logger {
	if s.Log != nil {
		return s.Log
	}
	return zap.NewNop()
}

// handleValidate implements §4.11 steps 1-3.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "reading request body", http.StatusBadRequest)
		return
	}

	review := &admissionv1.AdmissionReview{}
	if _, _, err := codecs.UniversalDeserializer().Decode(body, nil, review); err != nil {
		http.Error(w, "decoding AdmissionReview", http.StatusBadRequest)
		return
	}
	if review.Request == nil {
		http.Error(w, "AdmissionReview has no request", http.StatusBadRequest)
		return
	}

	response := &admissionv1.AdmissionReview{
		TypeMeta: review.TypeMeta,
		Response: &admissionv1.AdmissionResponse{UID: review.Request.UID},
	}

	claim, err := decodeClaim(review.Request.Object.Raw, review.Request.Kind.Kind)
	if err != nil {
		denyWith(response, err.Error())
		s.writeReview(w, response)
		return
	}

	if _, err := claimvalidator.Validate(s.Resolver, claim); err != nil {
		denyWith(response, err.Error())
		s.writeReview(w, response)
		return
	}

	response.Response.Allowed = true
	s.writeReview(w, response)
}

func (s *Server) writeReview(w http.ResponseWriter, review *admissionv1.AdmissionReview) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(review); err != nil {
		s.logger().Error("encoding AdmissionReview response", zap.Error(err))
	}
}

func denyWith(review *admissionv1.AdmissionReview, msg string) {
	review.Response.Allowed = false
	review.Response.Result = &metav1.Status{Message: msg}
}

// decodeClaim parses the admitted object into the fields the Claim
// Validator needs (§4.11 step 1 "Parse the object as an InfraWeave custom
// resource"): kind, name/namespace, and a spec map folded into variables
// the same way internal/operator.translateClaim does for a reconciled CR.
func decodeClaim(raw []byte, kind string) (*model.Claim, error) {
	var obj struct {
		APIVersion string `json:"apiVersion"`
		Kind       string `json:"kind"`
		Metadata   struct {
			Name      string `json:"name"`
			Namespace string `json:"namespace"`
		} `json:"metadata"`
		Spec map[string]any `json:"spec"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	if obj.Kind == "" {
		obj.Kind = kind
	}

	variables := make(map[string]any, len(obj.Spec))
	var moduleVersion, region string
	for k, v := range obj.Spec {
		switch k {
		case "moduleVersion":
			if str, ok := v.(string); ok {
				moduleVersion = str
			}
		case "region":
			if str, ok := v.(string); ok {
				region = str
			}
		default:
			variables[k] = v
		}
	}

	return &model.Claim{
		APIVersion: obj.APIVersion,
		Kind:       obj.Kind,
		Metadata:   model.Metadata{Name: obj.Metadata.Name, Namespace: obj.Metadata.Namespace},
		Spec: model.ClaimSpec{
			ModuleVersion: moduleVersion,
			Region:        region,
			Variables:     variables,
		},
	}, nil
}
