package ecoscan

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/pilah-ai/ecoscan/internal/ledger"
)

// multipartBody builds an upload form with one file part
func multipartBody(field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := writer.CreatePart(h)
	Expect(err).NotTo(HaveOccurred())
	_, err = part.Write(data)
	Expect(err).NotTo(HaveOccurred())
	Expect(writer.Close()).To(Succeed())
	return body, writer.FormDataContentType()
}

// brokenWriter fails every body write
type brokenWriter struct {
	*httptest.ResponseRecorder
}

func (w *brokenWriter) Write([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

func decodeBody(resp *http.Response, v any) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	Expect(json.Unmarshal(body, v)).To(Succeed())
}

var _ = Describe("Server", func() {
	var (
		l           *ledger.Ledger
		classifier  *mockClassifier
		images      *mockStorage
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		var err error
		service, err = NewService(Deps{
			Ledger:     l,
			Classifier: classifier,
			Images:     images,
			Rewards:    newTestRewards(),
		})
		Expect(err).NotTo(HaveOccurred())
		server = NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	}

	recordGlass := func(n int) {
		for i := 0; i < n; i++ {
			_, err := service.ProcessScan(context.Background(), "jar.jpg", []byte("jpeg"), "image/jpeg")
			Expect(err).NotTo(HaveOccurred())
		}
	}

	BeforeEach(func() {
		l = newTestLedger()
		classifier = newMockClassifier()
		images = newMockStorage()
		auth = BasicAuth{}
	})

	JustBeforeEach(func() {
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
			ghttpServer = nil
		}
	})

	Describe("handleHealth", func() {
		It("reports the classifier", func() {
			resp, err := http.Get(ghttpServer.URL() + "/health")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var body map[string]any
			decodeBody(resp, &body)
			Expect(body).To(HaveKeyWithValue("status", "healthy"))
			Expect(body).To(HaveKeyWithValue("classifier", "mock"))
		})
	})

	Describe("CORS", func() {
		It("answers preflight requests", func() {
			req, err := http.NewRequest(http.MethodOptions, ghttpServer.URL()+"/api/scans", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
		})

		When("credentials are missing", func() {
			It("returns Unauthorized with CORS headers", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/balance")
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
				Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			})
		})

		When("credentials are valid", func() {
			It("serves the request", func() {
				req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/balance", nil)
				Expect(err).NotTo(HaveOccurred())
				req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("admin:secret")))
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
			})
		})

		When("credentials are wrong", func() {
			It("returns Unauthorized", func() {
				req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/balance", nil)
				Expect(err).NotTo(HaveOccurred())
				req.SetBasicAuth("admin", "nope")
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			})
		})

		It("leaves the health check open", func() {
			resp, err := http.Get(ghttpServer.URL() + "/health")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("handlePredict", func() {
		When("a photo is uploaded", func() {
			It("returns the prediction without recording it", func() {
				body, ct := multipartBody("image", "bottle.jpg", "image/jpeg", []byte("jpeg"))
				resp, err := http.Post(ghttpServer.URL()+"/predict", ct, body)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var out struct {
					Status     string `json:"status"`
					Prediction struct {
						Label      string  `json:"label"`
						Confidence float64 `json:"confidence"`
						Points     int     `json:"points"`
					} `json:"prediction"`
					ModelInfo struct {
						TotalClasses int `json:"total_classes"`
					} `json:"model_info"`
				}
				decodeBody(resp, &out)
				Expect(out.Status).To(Equal("success"))
				Expect(out.Prediction.Label).To(Equal("glass"))
				Expect(out.Prediction.Confidence).To(Equal(92.5))
				Expect(out.ModelInfo.TotalClasses).To(Equal(6))
				Expect(service.Balance()).To(BeZero())
			})
		})

		When("no image field is present", func() {
			It("returns a bad request in the error envelope", func() {
				body, ct := multipartBody("other", "bottle.jpg", "image/jpeg", []byte("jpeg"))
				resp, err := http.Post(ghttpServer.URL()+"/predict", ct, body)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				var out map[string]string
				decodeBody(resp, &out)
				Expect(out).To(HaveKeyWithValue("status", "error"))
				Expect(out).To(HaveKeyWithValue("error", "No image uploaded"))
			})
		})

		When("the classifier fails", func() {
			BeforeEach(func() {
				classifier.classifyErr = errors.New("model offline")
			})

			It("returns Bad Gateway", func() {
				body, ct := multipartBody("image", "bottle.jpg", "image/jpeg", []byte("jpeg"))
				resp, err := http.Post(ghttpServer.URL()+"/predict", ct, body)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
				var out map[string]string
				decodeBody(resp, &out)
				Expect(out).To(HaveKeyWithValue("status", "error"))
			})
		})
	})

	Describe("handleUploadScan", func() {
		When("the upload is valid", func() {
			It("records the scan and returns Created", func() {
				body, ct := multipartBody("image", "bottle.jpg", "image/jpeg", []byte("jpeg"))
				resp, err := http.Post(ghttpServer.URL()+"/api/scans", ct, body)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var result ScanResult
				decodeBody(resp, &result)
				Expect(result.Scan.Label).To(Equal("glass"))
				Expect(result.DisplayName).To(Equal("Kaca"))
				Expect(service.Balance()).To(Equal(15))
			})
		})

		When("the legacy file field is used", func() {
			It("accepts the upload", func() {
				body, ct := multipartBody("file", "bottle.png", "image/png", []byte("png"))
				resp, err := http.Post(ghttpServer.URL()+"/api/scans", ct, body)
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			})
		})

		When("the file type is not supported", func() {
			It("returns Bad Request", func() {
				body, ct := multipartBody("image", "notes.txt", "text/plain", []byte("hello"))
				resp, err := http.Post(ghttpServer.URL()+"/api/scans", ct, body)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				var out map[string]string
				decodeBody(resp, &out)
				Expect(out["error"]).To(ContainSubstring("unsupported image type"))
			})
		})

		When("the body is not a multipart form", func() {
			It("returns Bad Request", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/scans", "application/json", strings.NewReader("{}"))
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("handleRecordScan", func() {
		When("the classification is complete", func() {
			It("returns Created", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/scans/record", "application/json",
					strings.NewReader(`{"label":"metal","category":"Logam","confidence":88.4,"points":15,"image":"../../etc/passwd"}`))
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				var record ledger.ScanRecord
				decodeBody(resp, &record)
				Expect(record.Label).To(Equal("metal"))
				Expect(record.Image).To(BeEmpty())
			})
		})

		When("confidence is missing", func() {
			It("returns Bad Request naming the field", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/scans/record", "application/json",
					strings.NewReader(`{"label":"metal","points":15}`))
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				var out map[string]string
				decodeBody(resp, &out)
				Expect(out["error"]).To(ContainSubstring("confidence"))
			})
		})

		When("the body is not JSON", func() {
			It("returns Bad Request", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/scans/record", "application/json", strings.NewReader("nope"))
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("handleListScans", func() {
		When("no scans exist", func() {
			It("returns an empty array", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/scans")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
				var scans []ledger.ScanRecord
				decodeBody(resp, &scans)
				Expect(scans).NotTo(BeNil())
				Expect(scans).To(BeEmpty())
			})
		})

		When("scans exist", func() {
			JustBeforeEach(func() {
				recordGlass(2)
			})

			It("returns them most recent first", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/scans?filter=today")
				Expect(err).NotTo(HaveOccurred())
				var scans []ledger.ScanRecord
				decodeBody(resp, &scans)
				Expect(scans).To(HaveLen(2))
				Expect(scans[0].ID).To(Equal("id-2"))
			})
		})

		When("the filter is unknown", func() {
			It("returns Bad Request", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/scans?filter=decade")
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("handleCategoryCounts", func() {
		JustBeforeEach(func() {
			recordGlass(3)
		})

		It("counts scans per label", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/scans/categories")
			Expect(err).NotTo(HaveOccurred())
			var counts map[string]int
			decodeBody(resp, &counts)
			Expect(counts).To(Equal(map[string]int{"glass": 3}))
		})
	})

	Describe("handleGetScanImage", func() {
		JustBeforeEach(func() {
			recordGlass(1)
		})

		It("serves the archived photo", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/scans/id-1/image")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/jpeg"))
			data, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("jpeg"))
		})

		It("logs a failed write to the client", func() {
			var logs bytes.Buffer
			prev := slog.Default()
			slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))
			DeferCleanup(slog.SetDefault, prev)

			w := &brokenWriter{ResponseRecorder: httptest.NewRecorder()}
			server.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/scans/id-1/image", nil))
			Expect(logs.String()).To(ContainSubstring("Error writing scan image"))
			Expect(logs.String()).To(ContainSubstring("connection reset"))
		})

		It("returns Not Found for an unknown scan", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/scans/id-9/image")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("handleStats", func() {
		JustBeforeEach(func() {
			recordGlass(3)
		})

		It("returns the aggregates", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/stats")
			Expect(err).NotTo(HaveOccurred())
			var body map[string]any
			decodeBody(resp, &body)
			Expect(body).To(HaveKeyWithValue("total_scans", 3.0))
			Expect(body).To(HaveKeyWithValue("total_points", 45.0))
			Expect(body).To(HaveKeyWithValue("co2_saved", "1.5"))
			Expect(body).To(HaveKeyWithValue("recycled_items", 3.0))
		})
	})

	Describe("handleAchievements", func() {
		It("lists every milestone", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/achievements")
			Expect(err).NotTo(HaveOccurred())
			var achievements []ledger.Achievement
			decodeBody(resp, &achievements)
			Expect(achievements).To(HaveLen(4))
			Expect(achievements[0].Unlocked).To(BeFalse())
		})
	})

	Describe("handleListRewards", func() {
		JustBeforeEach(func() {
			recordGlass(4)
		})

		It("flags affordable rewards", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/rewards")
			Expect(err).NotTo(HaveOccurred())
			var rewards []RewardStatus
			decodeBody(resp, &rewards)
			Expect(rewards).To(HaveLen(2))
			Expect(rewards[0].Affordable).To(BeTrue())
			Expect(rewards[1].Affordable).To(BeFalse())
		})
	})

	Describe("handleRedeem", func() {
		JustBeforeEach(func() {
			recordGlass(4)
		})

		When("the balance covers the reward", func() {
			It("returns Created and debits the balance", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/redemptions", "application/json",
					strings.NewReader(`{"reward_id":"pulsa-5k"}`))
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				var record ledger.RedemptionRecord
				decodeBody(resp, &record)
				Expect(record.Points).To(Equal(50))
				Expect(service.Balance()).To(Equal(10))
			})
		})

		When("the balance is too low", func() {
			It("returns Conflict with the numbers", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/redemptions", "application/json",
					strings.NewReader(`{"reward_id":"tumbler"}`))
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusConflict))
				var body map[string]any
				decodeBody(resp, &body)
				Expect(body).To(HaveKeyWithValue("balance", 60.0))
				Expect(body).To(HaveKeyWithValue("cost", 150.0))
				Expect(service.Balance()).To(Equal(60))
			})
		})

		When("the cost is not positive", func() {
			It("returns Bad Request", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/redemptions", "application/json",
					strings.NewReader(`{"reward":"Donasi","points":0}`))
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})

		When("the reward id is unknown", func() {
			It("returns Bad Request", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/redemptions", "application/json",
					strings.NewReader(`{"reward_id":"yacht"}`))
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("handleListRedemptions", func() {
		It("returns an empty array when nothing was redeemed", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/redemptions")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(strings.TrimSpace(string(body))).To(Equal("[]"))
		})
	})

	Describe("metrics", func() {
		It("is not served unless enabled", func() {
			resp, err := http.Get(ghttpServer.URL() + "/metrics")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("is served when enabled", func() {
			s := NewServer(service, BasicAuth{}, WithMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("metrics"))
			})))
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(Equal("metrics"))
		})
	})

	Describe("handleEvents", func() {
		When("the client goes away immediately", func() {
			It("sends the snapshot and ends the stream", func() {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				rec := httptest.NewRecorder()
				server.ServeHTTP(rec, httptest.NewRequest("GET", "/api/events", nil).WithContext(ctx))

				Expect(rec.Code).To(Equal(http.StatusOK))
				Expect(rec.Header().Get("Content-Type")).To(Equal("text/event-stream"))
				Expect(rec.Body.String()).To(HavePrefix("event: snapshot\ndata: "))
			})
		})

		When("a scan is recorded while streaming", func() {
			It("pushes the new stats", func() {
				ts := httptest.NewServer(server)
				defer ts.Close()

				resp, err := http.Get(ts.URL + "/api/events")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				reader := bufio.NewReader(resp.Body)

				readEvent := func() (string, string) {
					var kind, data string
					for {
						line, err := reader.ReadString('\n')
						Expect(err).NotTo(HaveOccurred())
						line = strings.TrimRight(line, "\n")
						switch {
						case strings.HasPrefix(line, "event: "):
							kind = strings.TrimPrefix(line, "event: ")
						case strings.HasPrefix(line, "data: "):
							data = strings.TrimPrefix(line, "data: ")
						case line == "":
							return kind, data
						}
					}
				}

				kind, _ := readEvent()
				Expect(kind).To(Equal("snapshot"))

				recordGlass(1)

				kind, data := readEvent()
				Expect(kind).To(Equal("scan"))
				var ev ledger.Event
				Expect(json.Unmarshal([]byte(data), &ev)).To(Succeed())
				Expect(ev.Stats.TotalScans).To(Equal(1))
			})
		})
	})
})
