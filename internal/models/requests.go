package models

// NewList is the input of list creation
type NewList struct {
	Nome      string `json:"nome" binding:"required,min=1,max=100"`
	Categoria string `json:"categoria,omitempty" binding:"max=50"`
	Cor       string `json:"cor,omitempty" binding:"max=20"`
}

// ListEdit carries the metadata fields to change; nil fields are left alone
type ListEdit struct {
	Nome      *string `json:"nome,omitempty" binding:"omitempty,min=1,max=100"`
	Categoria *string `json:"categoria,omitempty" binding:"omitempty,max=50"`
	Cor       *string `json:"cor,omitempty" binding:"omitempty,max=20"`
}

// NewItem is the input of item creation
type NewItem struct {
	Nome       string `json:"nome" binding:"required,min=1,max=200"`
	Categoria  string `json:"categoria,omitempty" binding:"max=50"`
	Quantidade int    `json:"quantidade,omitempty" binding:"gte=0,lte=9999"`
}

// ItemEdit carries the item fields to merge; nil fields are left alone
type ItemEdit struct {
	Nome       *string `json:"nome,omitempty" binding:"omitempty,min=1,max=200"`
	Categoria  *string `json:"categoria,omitempty" binding:"omitempty,max=50"`
	Quantidade *int    `json:"quantidade,omitempty" binding:"omitempty,gte=0,lte=9999"`
	Concluido  *bool   `json:"concluido,omitempty"`
	Ordem      *int    `json:"ordem,omitempty" binding:"omitempty,gte=0"`
}

// ShareRequest invites a user to a list
type ShareRequest struct {
	Email     string     `json:"email" binding:"required,email,max=255"`
	Permissao Permission `json:"permissao,omitempty" binding:"omitempty,oneof=owner editor"`
}

// MembersResponse lists who can access a list and who is invited
type MembersResponse struct {
	ListaID           string       `json:"listaId"`
	CriadoPor         string       `json:"criadoPor"`
	Membros           []Member     `json:"membros"`
	ConvitesPendentes []Invitation `json:"convitesPendentes"`
	// Perfis holds the directory profiles of the owner and the members
	Perfis []BasicUser `json:"perfis"`
}

// EmailValidation is the result of checking an address before sharing
type EmailValidation struct {
	Email          string     `json:"email"`
	Valido         bool       `json:"valido"`
	FormatoCorreto bool       `json:"formatoCorreto"`
	UsuarioExiste  bool       `json:"usuarioExiste"`
	Usuario        *BasicUser `json:"usuario,omitempty"`
	MensagemErro   string     `json:"mensagemErro,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}
