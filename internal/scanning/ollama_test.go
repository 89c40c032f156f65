package scanning

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Ollama", func() {
	var (
		server  *ghttp.Server
		ollama  *Ollama
		request ollamaChatRequest
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var err error
		ollama, err = NewOllama(server.URL(), "llava")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	captureRequest := func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(json.Unmarshal(body, &request)).To(Succeed())
	}

	reply := func(content string) http.HandlerFunc {
		return ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
			Message: ollamaMessage{Role: "assistant", Content: content},
			Done:    true,
		})
	}

	Describe("ScanReceipt", func() {
		When("the model returns items", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
					ghttp.VerifyContentType("application/json"),
					captureRequest,
					reply(`{"items":[{"description":"Milk","amount":3.49,"category":"Groceries"}]}`),
				))
			})

			It("parses the items", func() {
				data, err := ollama.ScanReceipt(context.Background(), testPNG(), "image/png")
				Expect(err).NotTo(HaveOccurred())
				Expect(data.Items).To(HaveLen(1))
				Expect(data.Items[0].Description).To(Equal("Milk"))
			})

			It("asks for JSON and attaches the image to the user message", func() {
				_, err := ollama.ScanReceipt(context.Background(), testPNG(), "image/png")
				Expect(err).NotTo(HaveOccurred())
				Expect(request.Model).To(Equal("llava"))
				Expect(request.Format).To(Equal("json"))
				Expect(request.Messages).To(HaveLen(2))
				Expect(request.Messages[1].Images).To(HaveLen(1))
			})
		})

		When("the model answers in prose", func() {
			BeforeEach(func() {
				server.AppendHandlers(reply("MILK 3.49\nTOTAL 3.49"))
			})

			It("returns a ResponseError carrying the text", func() {
				_, err := ollama.ScanReceipt(context.Background(), testPNG(), "image/png")
				var respErr *ResponseError
				Expect(errors.As(err, &respErr)).To(BeTrue())
				Expect(respErr.Raw).To(Equal("MILK 3.49\nTOTAL 3.49"))
			})
		})

		When("the server errors", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "model not loaded"))
			})

			It("returns a StatusError", func() {
				_, err := ollama.ScanReceipt(context.Background(), testPNG(), "image/png")
				var statusErr *StatusError
				Expect(errors.As(err, &statusErr)).To(BeTrue())
				Expect(statusErr.Code).To(Equal(http.StatusInternalServerError))
			})
		})
	})

	Describe("ReadText", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				captureRequest,
				reply("  MILK 3.49\nBREAD 2.00  "),
			))
		})

		It("returns the transcription without requesting JSON", func() {
			text, err := ollama.ReadText(context.Background(), testPNG(), "image/png")
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(Equal("MILK 3.49\nBREAD 2.00"))
			Expect(request.Format).To(BeEmpty())
		})
	})
})
