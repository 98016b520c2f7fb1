// Package docs provides generated OpenAPI documentation.
//
// Fable API
//
//	@title			Fable API
//	@version		1.0
//	@description	Personalized children's storybook pipeline API for creating books, uploading inputs, and driving generation.
//	@termsOfService	http://swagger.io/terms/
//
//	@contact.name	API Support
//	@contact.url	https://github.com/fablepress/fable
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8580
//	@BasePath	/
//
//	@schemes	http https
package docs

//go:generate swag init -g ../cmd/fable/serve.go -o ./swagger --parseDependency --parseInternal
