package constant

const (
	ProductionEnvironment  = "production"
	DevelopmentEnvironment = "development"
)

const (
	PermissionAdmin = "admin"
	PermissionRead  = "read"
)

const (
	FeedSourceCSV      = "csv"
	FeedSourcePostgres = "postgres"
)
