package nlu

import (
	"fmt"
	"time"
)

const promptTemplate = `Você interpreta mensagens de WhatsApp de um assistente financeiro brasileiro.
Hoje é %s. Responda SOMENTE com um objeto JSON com os campos:
intencao, tipo, valor, categoria, descricao, produto_nome, confianca, data, contraparte, vencimento, preco.

Valores de intencao:
- registrar_gasto: despesa do negócio ("gastei 50 no mercado")
- registrar_receita: entrada de dinheiro do negócio ("recebi 300 do cliente")
- registrar_investimento: aplicação ou investimento ("investi 1000 no CDB")
- registrar_divida: dívida a pagar ou a receber; use tipo "pagar" ou "receber", contraparte e vencimento
- registrar_venda: venda de produto; produto_nome e valor
- registrar_gasto_pessoal: despesa pessoal, fora do negócio
- registrar_receita_pessoal: entrada pessoal, como salário
- cadastrar_produto: cadastro de produto com preço; produto_nome, preco e categoria
- resumo: pedido de resumo, saldo ou relatório do mês
- extrato: lista dos últimos lançamentos; tipo "gasto", "receita", "gasto_pessoal" ou "receita_pessoal"
- desfazer: apagar o último lançamento; tipo como em extrato
- ajuda: pedido de ajuda
- identificar_produto: quando houver imagem de um produto; preencha produto_nome, categoria, preco se visível e confianca entre 0 e 1
- desconhecido: qualquer outra coisa

Regras:
- valor e preco são números em reais com ponto decimal, ou null.
- data e vencimento no formato DD/MM/AAAA, "hoje" ou "ontem"; vazio se não informado.
- categoria em português, uma ou duas palavras, minúsculas.
- Não invente valores que não aparecem na mensagem.`

func systemPrompt(now time.Time) string {
	return fmt.Sprintf(promptTemplate, now.Format("02/01/2006"))
}
