package category

// Brand names and short words match as whole words so that "shellfish"
// and "trainers" do not land in Transportation.
var defaultKeywords = []Keyword{
	// Food and groceries
	{"grocer", Food, Substring},
	{"supermarket", Food, Substring},
	{"restaurant", Food, Substring},
	{"dining", Food, Substring},
	{"cafe", Food, Substring},
	{"coffee", Food, Substring},
	{"bakery", Food, Substring},
	{"pizza", Food, Substring},
	{"burger", Food, Substring},
	{"sushi", Food, Substring},
	{"milk", Food, Substring},
	{"bread", Food, Substring},
	{"eggs", Food, Substring},
	{"cheese", Food, Substring},
	{"produce", Food, Substring},
	{"fruit", Food, Substring},
	{"vegetable", Food, Substring},
	{"meat", Food, Substring},
	{"snack", Food, Substring},
	{"beverage", Food, Substring},
	{"drink", Food, Substring},
	{"food", Food, Substring},
	{"meal", Food, Substring},
	{"lunch", Food, Substring},
	{"dinner", Food, Substring},
	{"breakfast", Food, Substring},
	{"takeout", Food, Substring},
	{"starbucks", Food, Substring},
	{"mcdonald", Food, Substring},
	{"whole foods", Food, Substring},
	{"trader joe", Food, Substring},
	{"doordash", Food, Substring},
	{"uber eats", Food, Substring},

	// Transportation
	{"gas station", Transportation, Substring},
	{"fuel", Transportation, Substring},
	{"petrol", Transportation, Substring},
	{"gasoline", Transportation, Substring},
	{"diesel", Transportation, Substring},
	{"parking", Transportation, Substring},
	{"toll road", Transportation, Substring},
	{"taxi", Transportation, Substring},
	{"uber", Transportation, WholeWord},
	{"lyft", Transportation, WholeWord},
	{"transit", Transportation, Substring},
	{"metro", Transportation, WholeWord},
	{"train", Transportation, WholeWord},
	{"airline", Transportation, Substring},
	{"flight", Transportation, Substring},
	{"car wash", Transportation, Substring},
	{"auto repair", Transportation, Substring},
	{"shell", Transportation, WholeWord},
	{"chevron", Transportation, WholeWord},
	{"exxon", Transportation, WholeWord},

	// Utilities
	{"electric", Utilities, Substring},
	{"water bill", Utilities, Substring},
	{"internet", Utilities, Substring},
	{"broadband", Utilities, Substring},
	{"phone bill", Utilities, Substring},
	{"mobile plan", Utilities, Substring},
	{"utility", Utilities, Substring},
	{"utilities", Utilities, Substring},
	{"verizon", Utilities, Substring},
	{"comcast", Utilities, Substring},
	{"at&t", Utilities, Substring},

	// Housing
	{"rent payment", Housing, Substring},
	{"mortgage", Housing, Substring},
	{"landlord", Housing, Substring},
	{"lease", Housing, WholeWord},
	{"hoa fee", Housing, Substring},
	{"furniture", Housing, Substring},
	{"home depot", Housing, Substring},
	{"hardware", Housing, Substring},
	{"plumb", Housing, Substring},

	// Entertainment
	{"cinema", Entertainment, Substring},
	{"movie", Entertainment, Substring},
	{"theatre", Entertainment, Substring},
	{"theater", Entertainment, Substring},
	{"concert", Entertainment, Substring},
	{"ticket", Entertainment, Substring},
	{"netflix", Entertainment, Substring},
	{"spotify", Entertainment, Substring},
	{"gaming", Entertainment, Substring},
	{"streaming", Entertainment, Substring},
	{"museum", Entertainment, Substring},

	// Health
	{"pharmacy", Health, Substring},
	{"chemist", Health, Substring},
	{"doctor", Health, Substring},
	{"medical", Health, Substring},
	{"medicine", Health, Substring},
	{"dental", Health, Substring},
	{"clinic", Health, Substring},
	{"hospital", Health, Substring},
	{"vitamin", Health, Substring},
	{"prescription", Health, Substring},
	{"gym", Health, WholeWord},
	{"fitness", Health, Substring},
	{"cvs", Health, WholeWord},
	{"walgreens", Health, Substring},

	// Shopping
	{"clothing", Shopping, Substring},
	{"apparel", Shopping, Substring},
	{"shoes", Shopping, Substring},
	{"electronics", Shopping, Substring},
	{"amazon", Shopping, Substring},
	{"walmart", Shopping, Substring},
	{"target", Shopping, WholeWord},
	{"ikea", Shopping, WholeWord},
	{"shop", Shopping, Substring},
	{"store", Shopping, Substring},
	{"retail", Shopping, Substring},
	{"mall", Shopping, WholeWord},
	{"gift", Shopping, Substring},
}

// defaultAliases are legacy labels stored by earlier versions of the app
var defaultAliases = map[string]Category{
	"groceries":       Food,
	"dining out":      Food,
	"eating out":      Food,
	"transport":       Transportation,
	"travel":          Transportation,
	"car":             Transportation,
	"auto":            Transportation,
	"bills":           Utilities,
	"phone":           Utilities,
	"home":            Housing,
	"rent":            Housing,
	"hoa":             Housing,
	"tolls":           Transportation,
	"household":       Housing,
	"fun":             Entertainment,
	"leisure":         Entertainment,
	"subscriptions":   Entertainment,
	"healthcare":      Health,
	"health & beauty": Health,
	"personal care":   Health,
	"clothes":         Shopping,
	"misc":            Other,
	"miscellaneous":   Other,
	"general":         Other,
	"uncategorized":   Other,
}
