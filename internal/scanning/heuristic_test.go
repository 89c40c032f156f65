package scanning

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/spend-tracker/internal/category"
)

const groceryReceipt = `WHOLE FOODS MARKET
123 Main St
(555) 123-4567
03/01/2024 10:42
MILK 2% 3.49
2 x BREAD 4.00
EGGS 12CT 00012345678 4.10 F
SUBTOTAL 11.59
TAX 0.93
TOTAL 12.52
VISA ****1234 12.52
CASHIER: JANE
THANK YOU`

var _ = Describe("Parser", func() {
	var (
		parser *Parser
		text   string
		parsed ParsedText
	)

	BeforeEach(func() {
		clock := func() time.Time { return time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC) }
		parser = NewParser(category.Default(), clock)
	})

	JustBeforeEach(func() {
		parsed = parser.Parse(text)
	})

	When("parsing a typical grocery receipt", func() {
		BeforeEach(func() {
			text = groceryReceipt
		})

		It("finds only the purchased items", func() {
			descriptions := make([]string, 0, len(parsed.Items))
			for _, item := range parsed.Items {
				descriptions = append(descriptions, item.Description)
			}
			Expect(descriptions).To(Equal([]string{"Milk 2%", "Bread", "Eggs 12ct"}))
		})

		It("keeps each line's amount", func() {
			Expect(parsed.Items[0].Amount.String()).To(Equal("3.49"))
			Expect(parsed.Items[1].Amount.String()).To(Equal("4.00"))
			Expect(parsed.Items[2].Amount.String()).To(Equal("4.10"))
		})

		It("guesses categories from the keyword table", func() {
			for _, item := range parsed.Items {
				Expect(item.Category).To(Equal("Food"))
			}
		})

		It("detects the total ignoring the subtotal", func() {
			Expect(parsed.Total.String()).To(Equal("12.52"))
		})

		It("detects the date", func() {
			Expect(parsed.Date).To(Equal("2024-03-01"))
			Expect(parsed.Items[0].Date).To(Equal("2024-03-01"))
		})

		It("detects the payment method", func() {
			Expect(parsed.PaymentMethod).To(Equal("Credit Card"))
		})
	})

	When("no line looks like an item", func() {
		BeforeEach(func() {
			text = "ACME HARDWARE\nTOTAL 25.00\nCASH 30.00\nCHANGE 5.00"
		})

		It("emits one synthetic item carrying the total", func() {
			Expect(parsed.Items).To(HaveLen(1))
			item := parsed.Items[0]
			Expect(item.Description).To(Equal("Store Purchase"))
			Expect(item.Amount.String()).To(Equal("25.00"))
			Expect(item.PaymentMethod).To(Equal("Cash"))
			Expect(item.Category).To(Equal("Housing"))
			Expect(item.Date).To(Equal("2025-06-15"))
		})
	})

	When("descriptions need cleanup", func() {
		BeforeEach(func() {
			text = "(3) ** organic bananas ** 2.97\n#  coffee beans - 12.99\n9 1.00\nX 2.00\nLoyalty savings 1.50"
		})

		It("strips quantity markers and symbols and title cases", func() {
			Expect(parsed.Items).To(HaveLen(2))
			Expect(parsed.Items[0].Description).To(Equal("Organic Bananas"))
			Expect(parsed.Items[1].Description).To(Equal("Coffee Beans"))
		})
	})

	When("a description is implausibly long", func() {
		BeforeEach(func() {
			text = "THIS LINE IS A VERY LONG PROMOTIONAL MESSAGE ABOUT OUR STORE POLICY 1.00"
		})

		It("rejects it", func() {
			Expect(parsed.Items).To(HaveLen(1))
			Expect(parsed.Items[0].Description).To(Equal("Store Purchase"))
		})
	})

	DescribeTable("reads single item lines",
		func(line, description, amount string) {
			items := parser.Parse(line).Items
			Expect(items).To(HaveLen(1))
			Expect(items[0].Description).To(Equal(description))
			Expect(items[0].Amount.String()).To(Equal(amount))
		},
		Entry("quantity at unit price", "MILK 2 @ 1.50 3.00", "Milk", "3.00"),
		Entry("unit price with currency", "APPLES 3 @ $0.99 $2.97", "Apples", "2.97"),
		Entry("product starting with table", "Table Salt 1.99", "Table Salt", "1.99"),
		Entry("product starting with card", "Card Game 12.99", "Card Game", "12.99"),
		Entry("product starting with time", "Time Magazine 5.99", "Time Magazine", "5.99"),
		Entry("product starting with tip", "Tip Top Bread 3.49", "Tip Top Bread", "3.49"),
	)

	DescribeTable("skips payment lines",
		func(line string) {
			items := parser.Parse("COFFEE BEANS 12.99\n" + line).Items
			Expect(items).To(HaveLen(1))
			Expect(items[0].Description).To(Equal("Coffee Beans"))
		},
		Entry("bare tender", "CASH 20.00"),
		Entry("masked card", "VISA ****1234 12.99"),
		Entry("card with x mask", "MASTERCARD XXXX1234 12.99"),
		Entry("combined labels", "CREDIT CARD 12.99"),
		Entry("labelled with a colon", "DEBIT: 12.99"),
		Entry("tip line", "TIP 2.00"),
		Entry("cash back", "CASH BACK 20.00"),
	)

	DescribeTable("always yields at least one item",
		func(input string) {
			Expect(parser.Parse(input).Items).NotTo(BeEmpty())
		},
		Entry("empty text", ""),
		Entry("whitespace", "   \n\t\n"),
		Entry("numbers only", "12.00\n13.00"),
		Entry("unicode noise", "日本語 ✓✓\n🍕"),
		Entry("a real receipt", groceryReceipt),
	)
})
